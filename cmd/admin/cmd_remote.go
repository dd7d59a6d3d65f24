package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"crossword.ai/internal/protocol"
	"crossword.ai/internal/registry"
	"crossword.ai/internal/transport/identity"
)

var httpClient = &http.Client{Timeout: 10 * time.Second}

func newSnapshotTakeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "take",
		Short: "Ask a running server (loopback only) to write a snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, http.MethodPost, "/admin/v1/snapshot", nil, "", "")
		},
	}
}

func newUnsolvedCmd() *cobra.Command {
	var index int
	cmd := &cobra.Command{
		Use:   "unsolved",
		Short: "List unsolved puzzles, or one of them with --index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/unsolved"
			if index >= 0 {
				path = fmt.Sprintf("/v1/unsolved/%d", index)
			}
			return call(cmd, http.MethodGet, path, nil, "", "")
		},
	}
	cmd.Flags().IntVar(&index, "index", -1, "position in the unsolved index")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <solution-hash>",
		Short: "Print the status of one puzzle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, http.MethodGet, "/v1/puzzles/"+registry.NormalizeHash(args[0])+"/status", nil, "", "")
		},
	}
}

// puzzleFile is the on-disk form accepted by create. Either the plain
// solution or its hash must be present.
type puzzleFile struct {
	Solution     string                   `json:"solution,omitempty"`
	SolutionHash string                   `json:"solution_hash,omitempty"`
	Answers      []protocol.AnswerPayload `json:"answers"`
}

func newCreateCmd() *cobra.Command {
	var account, token string
	cmd := &cobra.Command{
		Use:   "create <puzzle.json>",
		Short: "Register a puzzle from a JSON file (owner only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			req, err := loadPuzzleFile(b)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			body, err := json.Marshal(req)
			if err != nil {
				return err
			}
			if account == "" {
				return errors.New("--account is required")
			}
			return call(cmd, http.MethodPost, "/v1/puzzles", body, account, token)
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "owner account id")
	cmd.Flags().StringVar(&token, "token", "", "owner auth token (see admin token)")
	return cmd
}

func loadPuzzleFile(b []byte) (protocol.CreatePuzzleReq, error) {
	var f puzzleFile
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return protocol.CreatePuzzleReq{}, err
	}
	hash := registry.NormalizeHash(f.SolutionHash)
	if f.Solution != "" {
		computed := registry.SolutionHash(registry.SHA256, f.Solution)
		if hash != "" && hash != computed {
			return protocol.CreatePuzzleReq{}, fmt.Errorf("solution_hash %s does not match solution (%s)", hash, computed)
		}
		hash = computed
	}
	req := protocol.CreatePuzzleReq{SolutionHash: hash, Answers: f.Answers}
	if err := protocol.Validate(req); err != nil {
		return protocol.CreatePuzzleReq{}, err
	}
	return req, nil
}

func call(cmd *cobra.Command, method, path string, body []byte, account, token string) error {
	base, _ := cmd.Flags().GetString("url")
	u := strings.TrimRight(strings.TrimSpace(base), "/") + path

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(cmd.Context(), method, u, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if account != "" {
		req.Header.Set(identity.HeaderAccountID, account)
	}
	if token != "" {
		req.Header.Set(identity.HeaderToken, token)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(out)))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return nil
}
