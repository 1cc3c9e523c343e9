package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"takt"
	"takt/engine"
	"takt/engine/gomidi"
	"takt/relay"
	"takt/scsynth"
	"takt/version"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:57110", "UDP address of the synthesis engine.")
	position := flag.Float64("pos", 0, "Start position, in beats.")
	quant := flag.String("quant", "0", "Clip launch quantization, in beats; \"bar\" quantizes to one bar. 0 launches immediately.")
	midiInput := flag.String("midi", "", "Open the first MIDI input whose name starts with this prefix; \"*\" takes the first available.")
	relayAddr := flag.String("relay", "", "Relay transport snapshots to a takt UI at this address.")
	metronome := flag.Bool("m", false, "Start with the metronome enabled.")
	versionFlag := flag.Bool("v", false, "Print version.")
	flag.Usage = printUsage
	flag.Parse()
	if *versionFlag {
		fmt.Println(version.VersionOrHash)
		os.Exit(0)
	}
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(0)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	host, portStr, err := net.SplitHostPort(*addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid engine address %v: %v\n", *addr, err)
		os.Exit(1)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid engine port %v: %v\n", portStr, err)
		os.Exit(1)
	}

	filename := flag.Arg(0)
	comp, err := loadComposition(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not load composition %v: %v\n", filename, err)
		os.Exit(1)
	}
	name := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	quantBeats, err := parseQuant(*quant, comp.TimeSig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid quantization %v: %v\n", *quant, err)
		os.Exit(1)
	}
	if comp.Loop.Enabled && *position != 0 && !comp.Loop.Contains(*position) {
		log.Warn("start position lies outside the loop region", "position", *position)
	}

	client := scsynth.NewClient(host, port, log)
	alloc := scsynth.NewAllocator()
	notes := engine.NewNoteScheduler(client, alloc, log)
	launcher := engine.NewLauncher(client, alloc, notes, log)
	launcher.SetQuantization(quantBeats)
	broker := engine.NewBroker()
	transport := engine.NewTransport(broker, client, alloc, notes, launcher, log)
	transport.AddComposition(name, comp)
	go transport.Run()

	if *midiInput != "" {
		live := transport.NewLivePlayer(comp)
		ctx := gomidi.NewContext(live)
		defer ctx.Close()
		prefix, takeFirst := *midiInput, false
		if prefix == "*" {
			prefix, takeFirst = "", true
		}
		if err := ctx.TryToOpenBy(prefix, takeFirst); err != nil {
			log.Warn("no MIDI input opened", "error", err)
		}
	}

	var snapshots chan<- engine.Snapshot
	if *relayAddr != "" {
		snapshots, err = relay.Sender(*relayAddr)
		if err != nil {
			log.Warn("snapshot relay unavailable", "error", err)
			snapshots = nil
		} else {
			defer close(snapshots)
		}
	}
	go follow(broker.ToUI, snapshots)

	if *metronome {
		transport.ToggleMetronome()
	}
	if err := transport.Play(name, *position); err != nil {
		fmt.Fprintf(os.Stderr, "could not start playback: %v\n", err)
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	<-sig
	fmt.Fprintln(os.Stderr)
	launcher.StopAllClips()
	transport.Stop()
	transport.Close(3 * time.Second)
}

// follow consumes transport snapshots, forwarding them to the relay when one
// is connected and keeping a position line on stderr.
func follow(in <-chan engine.Snapshot, out chan<- engine.Snapshot) {
	var lastPrint time.Time
	for snapshot := range in {
		if out != nil {
			select {
			case out <- snapshot:
			default:
			}
		}
		if time.Since(lastPrint) < 250*time.Millisecond {
			continue
		}
		lastPrint = time.Now()
		fmt.Fprintf(os.Stderr, "\r%s %7.2f beats %7.2f s BPM %g   ",
			stateString(snapshot), snapshot.Position, snapshot.PositionSeconds, snapshot.BPM)
	}
}

func stateString(s engine.Snapshot) string {
	switch {
	case s.IsPlaying:
		return "playing"
	case s.IsPaused:
		return "paused "
	}
	return "stopped"
}

// parseQuant resolves the -quant flag: a beat count, or "bar" for one bar of
// the composition's time signature.
func parseQuant(s string, ts takt.TimeSig) (float64, error) {
	if s == "bar" {
		return ts.BarLength(), nil
	}
	q, err := strconv.ParseFloat(s, 64)
	if err != nil || q < 0 {
		return 0, fmt.Errorf("expected a non-negative beat count or \"bar\"")
	}
	return q, nil
}

// loadComposition reads a composition file, YAML first with a JSON fallback,
// and validates it.
func loadComposition(filename string) (*takt.Composition, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	comp, yamlErr := takt.LoadComposition(data)
	if yamlErr == nil {
		return comp, nil
	}
	var c takt.Composition
	if jsonErr := json.Unmarshal(data, &c); jsonErr != nil {
		return nil, fmt.Errorf("the file was neither YAML (%v) nor JSON (%v)", yamlErr, jsonErr)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Takt command line utility for playing composition files against a running synthesis engine.\nUsage: %s [flags] composition.yml\n", os.Args[0])
	flag.PrintDefaults()
}
