// Package relay carries transport snapshots to an external UI process over
// net/rpc, so a frontend can follow the playhead without linking the engine.
package relay

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/rpc"

	"takt/engine"
)

const port = ":31737"

// SnapshotServer receives pushed snapshots on the UI side.
type SnapshotServer struct {
	channel chan engine.Snapshot
}

// Push delivers one snapshot. Snapshots are dropped when the receiver lags;
// the next one supersedes them anyway.
func (s *SnapshotServer) Push(snapshot engine.Snapshot, reply *int) error {
	select {
	case s.channel <- snapshot:
	default:
	}
	return nil
}

// Receiver starts listening for snapshots pushed by a takt engine and returns
// the channel they arrive on.
func Receiver() (<-chan engine.Snapshot, error) {
	c := make(chan engine.Snapshot, 1)
	server := &SnapshotServer{channel: c}
	rpc.Register(server)
	rpc.HandleHTTP()
	l, err := net.Listen("tcp", port)
	if err != nil {
		return nil, fmt.Errorf("net.Listen failed: %w", err)
	}
	go func() {
		defer close(c)
		http.Serve(l, nil)
	}()
	return c, nil
}

// Sender connects to a snapshot receiver and returns a channel to push
// snapshots into. The caller closes the channel to hang up.
func Sender(serverAddress string) (chan<- engine.Snapshot, error) {
	c := make(chan engine.Snapshot, 256)
	client, err := rpc.DialHTTP("tcp", serverAddress+port)
	if err != nil {
		return nil, fmt.Errorf("rpc.DialHTTP failed: %w", err)
	}
	go func() {
		defer client.Close()
		for snapshot := range c {
			var reply int
			if err := client.Call("SnapshotServer.Push", snapshot, &reply); err != nil {
				slog.Warn("snapshot relay send failed", "error", err)
				return
			}
		}
	}()
	return c, nil
}
