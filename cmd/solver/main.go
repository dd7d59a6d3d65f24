// Command solver submits crossword solutions over the websocket API and can
// follow the registry's event feed.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"crossword.ai/internal/protocol"
	"crossword.ai/internal/registry"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		account  = flag.String("account", "", "account id to be paid")
		token    = flag.String("token", "", "auth token for the account (empty in dev mode)")
		solution = flag.String("solution", "", "solution to submit (space separated answers)")
		memo     = flag.String("memo", "", "memo stored with a winning solution")
		list     = flag.Bool("list", false, "print the unsolved puzzles first")
		watch    = flag.Bool("watch", false, "keep running and print registry events")
		timeout  = flag.Duration("timeout", 10*time.Second, "per request timeout")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[solver] ", log.LstdFlags|log.Lmicroseconds)
	if strings.TrimSpace(*account) == "" {
		logger.Fatalf("-account is required")
	}

	c, err := dial(*url, *timeout)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer c.Close()
	c.onEvent = func(ev protocol.Event) {
		logger.Printf("EVENT %s %s actor=%s memo=%q", ev.Kind, ev.SolutionHash, ev.Actor, ev.Memo)
	}

	w, err := c.hello(*account, *token)
	if err != nil {
		logger.Fatalf("handshake: %v", err)
	}
	logger.Printf("WELCOME session=%s account=%s reward=%s %s", w.SessionID, w.AccountID, w.RewardAmount, w.RewardDenom)

	if *list {
		var unsolved registry.UnsolvedPuzzles
		if err := c.request(protocol.OpGetUnsolvedPuzzles, struct{}{}, &unsolved); err != nil {
			logger.Fatalf("list: %v", err)
		}
		for i, p := range unsolved.Puzzles {
			logger.Printf("unsolved[%d] %s answers=%d", i, p.SolutionHash, len(p.Answers))
			for _, a := range p.Answers {
				logger.Printf("  %d %s (%d,%d) len=%d: %s", a.Num, a.Direction, a.Start.X, a.Start.Y, a.Length, a.Clue)
			}
		}
	}

	if *solution != "" {
		logger.Printf("submitting hash=%s", registry.SolutionHash(registry.SHA256, *solution))
		var res protocol.SubmitSolutionResp
		err := c.request(protocol.OpSubmitSolution, protocol.SubmitSolutionReq{Solution: *solution, Memo: *memo}, &res)
		if err != nil {
			logger.Printf("submit: %v", err)
			if !*watch {
				os.Exit(1)
			}
		} else {
			logger.Printf("SOLVED %s payout=%s amount=%s", res.SolutionHash, res.PayoutID, res.Amount)
		}
	}

	if !*watch {
		return
	}
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		_ = c.Close()
	}()
	if err := c.watch(); err != nil {
		logger.Printf("stopped: %v", err)
	}
}
