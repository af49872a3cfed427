package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/zkbclient/pkg/errors"
)

// fetchOpts holds options for the fetch command.
type fetchOpts struct {
	body       string
	trustCache bool
	pages      bool
	pretty     bool
	output     string
}

// fetchCommand creates the fetch command.
func (c *CLI) fetchCommand() *cobra.Command {
	opts := fetchOpts{}

	cmd := &cobra.Command{
		Use:   "fetch <resource>",
		Short: "Fetch a zKillboard API resource",
		Long: `Fetch a zKillboard API resource, revalidating the cached copy.

The resource is a path below the API root, for example
"corporationID/98000001/" or "kills/characterID/90000001/".`,
		Example: `  zkb fetch corporationID/98000001/
  zkb fetch kills/characterID/90000001/ --pages --pretty
  zkb fetch killmails/ --body ids.json
  zkb fetch corporationID/98000001/ --offline`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runFetch(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.body, "body", "", "send a JSON POST body read from `file` (- for stdin)")
	cmd.Flags().BoolVar(&opts.trustCache, "trust-cache", false, "return a cached payload without revalidating")
	cmd.Flags().BoolVar(&opts.pages, "pages", false, "fetch page/1/, page/2/, ... and merge them into one array")
	cmd.Flags().BoolVar(&opts.pretty, "pretty", false, "indent the JSON output")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "write the payload to `file` instead of stdout")
	cmd.MarkFlagsMutuallyExclusive("body", "pages")

	return cmd
}

func (c *CLI) runFetch(cmd *cobra.Command, resource string, opts fetchOpts) error {
	ctx := cmd.Context()
	logger := loggerFromContext(ctx)
	cfg := c.config()

	body, err := readBody(cmd.InOrStdin(), opts.body)
	if err != nil {
		return err
	}

	sess, err := newSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	prog := newProgress(logger)
	var spinner *Spinner
	if logger.GetLevel() > log.DebugLevel {
		spinner = newSpinnerWithContext(ctx, "Fetching "+resource+"...")
		spinner.Start()
	}

	var data json.RawMessage
	if opts.pages {
		data, err = sess.client.FetchPages(ctx, resource, opts.trustCache)
	} else {
		data, err = sess.client.Fetch(ctx, resource, body, opts.trustCache)
	}
	if err != nil {
		if code := errors.StatusCode(err); code != 0 && spinner != nil {
			spinner.StopWithError(fmt.Sprintf("%s: HTTP %d", resource, code))
		} else if spinner != nil {
			spinner.Stop()
		}
		return err
	}
	if spinner != nil {
		spinner.Stop()
	}

	if data == nil {
		printWarning("%s is not cached (offline)", resource)
		return nil
	}

	var lastModified string
	if lm := sess.client.LastModified(); !lm.IsZero() {
		lastModified = lm.UTC().Format(time.DateTime)
	}
	logger.Debug("fetched", "resource", resource, "updated", sess.client.Updated(), "last_modified", lastModified)

	if err := writePayload(cmd.OutOrStdout(), opts.output, data, opts.pretty); err != nil {
		return err
	}
	prog.done("fetched", "resource", resource, "bytes", len(data))
	printFetchStats(len(data), sess.client.Updated(), lastModified)
	return nil
}

// readBody decodes the JSON POST body named by path. An empty path means
// a GET request.
func readBody(stdin io.Reader, path string) (any, error) {
	if path == "" {
		return nil, nil
	}

	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "read body")
	}

	var body any
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "body is not valid JSON")
	}
	if body == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "body must not be null")
	}
	return body, nil
}

// writePayload writes data to path, or to stdout when path is empty.
func writePayload(stdout io.Writer, path string, data json.RawMessage, pretty bool) error {
	if pretty {
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err != nil {
			return errors.Wrap(errors.ErrCodeInvalidInput, err, "indent payload")
		}
		data = buf.Bytes()
	}
	out := append(append([]byte{}, data...), '\n')

	if path == "" {
		_, err := stdout.Write(out)
		return err
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	printDetail("Wrote %s", path)
	return nil
}
