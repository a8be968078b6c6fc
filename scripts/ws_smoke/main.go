package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

// frame is the union of every message a listener can receive.
type frame struct {
	AssignedChannel  *int `json:"assignedChannel"`
	ParticipantCount int  `json:"participantCount"`
}

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080", "server base address")
	channels := flag.Int("channels", 8, "channel count to request")
	listeners := flag.Int("listeners", 3, "number of listeners to connect")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conns := make([]*websocket.Conn, 0, *listeners)
	defer func() {
		for _, c := range conns {
			c.Close(websocket.StatusNormalClosure, "bye")
		}
	}()

	for i := 0; i < *listeners; i++ {
		id := uuid.NewString()
		url := fmt.Sprintf("%s/ws/%d/%s", strings.TrimRight(*addr, "/"), *channels, id)

		conn, _, err := websocket.Dial(ctx, url, nil)
		if err != nil {
			return fmt.Errorf("dial %s: %w", id, err)
		}
		conns = append(conns, conn)

		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return fmt.Errorf("read assignment: %w", err)
		}
		if f.AssignedChannel == nil {
			return fmt.Errorf("listener %s got no assignment: %+v", id, f)
		}
		fmt.Printf("listener=%s channel=%d participants=%d\n", id, *f.AssignedChannel, f.ParticipantCount)
	}

	// The first listener sees one count update per later join.
	if len(conns) > 1 {
		for i := 1; i < len(conns); i++ {
			var f frame
			if err := wsjson.Read(ctx, conns[0], &f); err != nil {
				return fmt.Errorf("read update: %w", err)
			}
			fmt.Printf("update participants=%d\n", f.ParticipantCount)
		}
	}

	return nil
}
