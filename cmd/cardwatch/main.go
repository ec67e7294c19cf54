// Command cardwatch subscribes to a relay and prints card activity.
//
// Lines read from stdin move this client's pointer:
//
//	<card> <x> <y>   pointer at (x,y) percent on card
//	leave <card>     pointer left card
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/electr1fy0/cardsync/internal/config"
	"github.com/electr1fy0/cardsync/internal/livesync"
	"github.com/electr1fy0/cardsync/internal/logger"
	"github.com/electr1fy0/cardsync/internal/protocol"
)

type settings struct {
	Log      logger.Config
	LiveSync livesync.Config
}

func main() {
	var cfg settings
	config.MustLoad(&cfg)

	base := flag.String("base", "", "relay base url, e.g. https://cards.example.com")
	stream := flag.Bool("sse", false, "use the receive-only event stream")
	card := flag.Int64("card", 0, "only print events for this card")
	flag.Parse()

	if *base != "" {
		ep, err := config.ResolveEndpoints(*base)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		cfg.LiveSync.WebSocketURL = ep.WebSocket
		cfg.LiveSync.StreamURL = ep.Stream
	}
	if *stream {
		cfg.LiveSync.Transport = livesync.TransportStream
	}

	log := logger.NewWithWriter(cfg.Log, os.Stderr)
	if err := run(cfg.LiveSync, *card, log); err != nil {
		log.Error("cardwatch stopped", logger.Error(err))
		os.Exit(1)
	}
}

func run(cfg livesync.Config, card int64, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := livesync.New(cfg, livesync.WithLogger(log.With(logger.Component("livesync"))))
	sub := hub.Subscribe(printer(os.Stdout, card))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return readPointer(gctx, os.Stdin, hub, log)
	})
	g.Go(func() error {
		<-gctx.Done()
		sub.Release()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := hub.Shutdown(shutdownCtx)

		st := hub.Stats()
		log.Info("hub stopped", "attempts", st.Attempts, "opens", st.Opens)
		return err
	})
	return g.Wait()
}

func printer(w io.Writer, card int64) livesync.Callbacks {
	wanted := func(id int64) bool { return card == 0 || id == card }
	return livesync.Callbacks{
		OnReaction: func(id int64, tally []protocol.TallyEntry) {
			if !wanted(id) {
				return
			}
			parts := make([]string, len(tally))
			for i, e := range tally {
				parts[i] = fmt.Sprintf("%s×%d", e.Value, e.Count)
			}
			fmt.Fprintf(w, "card %d reactions %s\n", id, strings.Join(parts, " "))
		},
		OnArchived: func(id int64) {
			if wanted(id) {
				fmt.Fprintf(w, "card %d archived\n", id)
			}
		},
		OnPresence: func(client string, id int64, x, y float64) {
			if wanted(id) {
				fmt.Fprintf(w, "card %d pointer %s at %.1f,%.1f\n", id, client, x, y)
			}
		},
		OnPresenceLeave: func(client string) {
			fmt.Fprintf(w, "pointer %s left\n", client)
		},
	}
}

// readPointer feeds pointer commands from r to the hub until r ends. EOF
// is not an error: the watcher keeps printing until interrupted.
func readPointer(ctx context.Context, r io.Reader, hub *livesync.Hub, log *slog.Logger) error {
	if !hub.PresenceAvailable() {
		return nil
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := pointerCommand(hub, line); err != nil {
				log.Warn("bad pointer command", "line", line, logger.Error(err))
			}
		}
	}
}

var errBadCommand = errors.New(`expected "<card> <x> <y>" or "leave <card>"`)

func pointerCommand(hub *livesync.Hub, line string) error {
	fields := strings.Fields(line)
	switch {
	case len(fields) == 0:
		return nil
	case len(fields) == 2 && fields[0] == "leave":
		id, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return err
		}
		hub.LeavePointer(id)
		return nil
	case len(fields) == 3:
		id, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return err
		}
		x, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return err
		}
		y, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return err
		}
		hub.MovePointer(id, x, y)
		return nil
	}
	return errBadCommand
}
