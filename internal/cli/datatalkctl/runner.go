package datatalkctl

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const (
	OutputTable = "table"
	OutputJSON  = "json"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

// usageError marks failures caused by how the command was invoked rather
// than by the server.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }

type httpStatusError struct {
	Status int
	Body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// Run executes one command and returns the process exit code: 0 on success,
// 1 when the request or the turn failed, 2 on usage errors.
func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	c := &client{stdout: stdout}
	root := newRootCommand(c, defaults)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	_, _ = fmt.Fprintf(stderr, "error: %v\n", err)

	var commandErr *commandError
	if errors.As(err, &commandErr) {
		return 1
	}
	return 2
}

// commandError wraps failures returned from a command body.
type commandError struct{ err error }

func (e *commandError) Error() string { return e.err.Error() }
func (e *commandError) Unwrap() error { return e.err }

func runE(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := fn(cmd, args)
		if err == nil {
			return nil
		}
		var usage usageError
		if errors.As(err, &usage) {
			return err
		}
		return &commandError{err: err}
	}
}

type client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	output  string
	http    *http.Client
	stdout  io.Writer
}

func newRootCommand(c *client, defaults Options) *cobra.Command {
	root := &cobra.Command{
		Use:           "datatalkctl",
		Short:         "Talk to a datatalk API server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch c.output {
			case OutputTable, OutputJSON:
			default:
				return usageError{fmt.Errorf("invalid --output %q: expected table or json", c.output)}
			}
			c.http = defaults.HTTPClient
			if c.http == nil {
				c.http = &http.Client{Timeout: c.timeout}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = cmd.Usage()
			return usageError{errors.New("a command is required")}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.baseURL, "base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "datatalk API base URL")
	flags.StringVar(&c.apiKey, "api-key", defaults.APIKey, "API key for authenticated requests")
	flags.DurationVar(&c.timeout, "timeout", durationOr(defaults.Timeout, 2*time.Minute), "HTTP timeout (e.g. 30s)")
	flags.StringVarP(&c.output, "output", "o", OutputTable, "Output format: table, json")

	root.AddCommand(
		&cobra.Command{
			Use:   "health",
			Short: "GET /v1/health",
			Args:  cobra.NoArgs,
			RunE: runE(func(cmd *cobra.Command, _ []string) error {
				return c.printJSON(cmd.Context(), http.MethodGet, "/v1/health")
			}),
		},
		&cobra.Command{
			Use:   "ready",
			Short: "GET /v1/ready",
			Args:  cobra.NoArgs,
			RunE: runE(func(cmd *cobra.Command, _ []string) error {
				return c.printJSON(cmd.Context(), http.MethodGet, "/v1/ready")
			}),
		},
		&cobra.Command{
			Use:   "sessions",
			Short: "List open sessions",
			Args:  cobra.NoArgs,
			RunE: runE(func(cmd *cobra.Command, _ []string) error {
				return c.printJSON(cmd.Context(), http.MethodGet, "/v1/sessions")
			}),
		},
		newIngestCommand(c),
		&cobra.Command{
			Use:   "ask <session-id> <utterance...>",
			Short: "Ask a question about a session's dataset",
			Args:  cobra.MinimumNArgs(2),
			RunE: runE(func(cmd *cobra.Command, args []string) error {
				return c.ask(cmd.Context(), args[0], strings.Join(args[1:], " "))
			}),
		},
		&cobra.Command{
			Use:   "turns <session-id>",
			Short: "Show a session's transcript",
			Args:  cobra.ExactArgs(1),
			RunE: runE(func(cmd *cobra.Command, args []string) error {
				return c.turns(cmd.Context(), args[0])
			}),
		},
		&cobra.Command{
			Use:   "close <session-id>",
			Short: "Close a session and release its dataset",
			Args:  cobra.ExactArgs(1),
			RunE: runE(func(cmd *cobra.Command, args []string) error {
				if _, err := c.do(cmd.Context(), http.MethodDelete, sessionPath(args[0]), nil); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(c.stdout, "session %s closed\n", args[0])
				return nil
			}),
		},
	)
	return root
}

func newIngestCommand(c *client) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "ingest <file.json|file.csv>",
		Short: "Upload a table and open a session for it",
		Long: `Upload a header-first table. JSON files hold a two-dimensional array whose
first row is the header; CSV files use their first record as the header.

Without --session a new session is opened. With --session the dataset of an
existing session is replaced and its conversation history cleared.`,
		Args: cobra.ExactArgs(1),
		RunE: runE(func(cmd *cobra.Command, args []string) error {
			table, err := readTableFile(args[0])
			if err != nil {
				return err
			}
			body, err := json.Marshal(map[string]any{"table": table})
			if err != nil {
				return err
			}
			method, path := http.MethodPost, "/v1/sessions"
			if sessionID != "" {
				method, path = http.MethodPut, sessionPath(sessionID)+"/dataset"
			}
			raw, err := c.do(cmd.Context(), method, path, body)
			if err != nil {
				return err
			}
			if c.output == OutputJSON {
				return writePrettyJSON(c.stdout, raw)
			}
			var session sessionResponse
			if err := json.Unmarshal(raw, &session); err != nil {
				return fmt.Errorf("decode session: %w", err)
			}
			renderSession(c.stdout, session)
			return nil
		}),
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Replace the dataset of an existing session")
	return cmd
}

func (c *client) ask(ctx context.Context, sessionID, utterance string) error {
	body, err := json.Marshal(map[string]string{"utterance": utterance})
	if err != nil {
		return err
	}
	raw, err := c.do(ctx, http.MethodPost, sessionPath(sessionID)+"/turns", body)
	if err != nil {
		return err
	}

	var result turnResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("decode turn result: %w", err)
	}
	if c.output == OutputJSON {
		if err := writePrettyJSON(c.stdout, raw); err != nil {
			return err
		}
	} else {
		renderSpec(c.stdout, result.Spec)
	}
	if result.Status == "failed" {
		return fmt.Errorf("turn failed (%s): %s", result.Outcome, result.Error)
	}
	return nil
}

func (c *client) turns(ctx context.Context, sessionID string) error {
	raw, err := c.do(ctx, http.MethodGet, sessionPath(sessionID)+"/turns", nil)
	if err != nil {
		return err
	}
	if c.output == OutputJSON {
		return writePrettyJSON(c.stdout, raw)
	}
	var transcript struct {
		Turns []entry `json:"turns"`
	}
	if err := json.Unmarshal(raw, &transcript); err != nil {
		return fmt.Errorf("decode turns: %w", err)
	}
	renderTurns(c.stdout, transcript.Turns)
	return nil
}

func (c *client) printJSON(ctx context.Context, method, path string) error {
	raw, err := c.do(ctx, method, path, nil)
	if err != nil {
		return err
	}
	return writePrettyJSON(c.stdout, raw)
}

func (c *client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	endpoint := strings.TrimRight(c.baseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := strings.TrimSpace(c.apiKey); key != "" {
		req.Header.Set("X-API-Key", key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, &httpStatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	return raw, nil
}

// readTableFile loads a header-first table from a .json or .csv file.
func readTableFile(path string) ([][]any, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		reader := csv.NewReader(bytes.NewReader(content))
		reader.FieldsPerRecord = -1
		records, err := reader.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("parse csv %s: %w", path, err)
		}
		table := make([][]any, 0, len(records))
		for _, record := range records {
			row := make([]any, len(record))
			for i, value := range record {
				row[i] = value
			}
			table = append(table, row)
		}
		return table, nil
	case ".json":
		var table [][]any
		decoder := json.NewDecoder(bytes.NewReader(content))
		decoder.UseNumber()
		if err := decoder.Decode(&table); err != nil {
			return nil, fmt.Errorf("parse json %s: expected a two-dimensional array: %w", path, err)
		}
		return table, nil
	default:
		return nil, usageError{fmt.Errorf("unsupported file type %q: expected .json or .csv", filepath.Ext(path))}
	}
}

func sessionPath(id string) string {
	return "/v1/sessions/" + url.PathEscape(id)
}

func writePrettyJSON(w io.Writer, raw []byte) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var formatted bytes.Buffer
	if err := json.Indent(&formatted, raw, "", "  "); err != nil {
		_, _ = fmt.Fprintln(w, string(raw))
		return nil
	}
	_, _ = fmt.Fprintln(w, strings.TrimRight(formatted.String(), "\n"))
	return nil
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
