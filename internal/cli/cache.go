package cli

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/matzehuels/zkbclient/pkg/cache"
	"github.com/matzehuels/zkbclient/pkg/errors"
)

// cacheCommand creates the cache management command.
func (c *CLI) cacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the document cache",
	}

	cmd.AddCommand(c.cachePathCommand())
	cmd.AddCommand(c.cacheClearCommand())
	cmd.AddCommand(c.cacheShowCommand())
	cmd.AddCommand(c.cacheListCommand())
	cmd.AddCommand(c.cacheBrowseCommand())

	return cmd
}

// cachePathCommand creates the "cache path" subcommand.
func (c *CLI) cachePathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print where the configured backend stores documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := c.config().storeLocation()
			if err != nil {
				return fmt.Errorf("get cache dir: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), loc)
			return nil
		},
	}
}

// cacheClearCommand creates the "cache clear" subcommand.
func (c *CLI) cacheClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached document, sticky errors included",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx, c.config())
			if err != nil {
				return err
			}
			defer store.Close()

			clearer, ok := store.(cache.Clearer)
			if !ok {
				printInfo("The %s backend holds nothing to clear", cache.BackendName(store))
				return nil
			}
			n, err := clearer.Clear(ctx)
			if err != nil {
				return err
			}
			if n == 0 {
				printInfo("Cache is empty")
				return nil
			}

			printSuccess("Cleared %d cached documents", n)
			if loc, err := c.config().storeLocation(); err == nil {
				printDetail("Location: %s", loc)
			}
			return nil
		},
	}
}

// cacheShowCommand creates the "cache show" subcommand.
func (c *CLI) cacheShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <resource>",
		Short: "Show the cached document for a resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx, c.config())
			if err != nil {
				return err
			}
			defer store.Close()

			return showDocument(ctx, cmd, store, args[0])
		},
	}
}

// showDocument prints the headers and payload size of the document stored
// for resource.
func showDocument(ctx context.Context, cmd *cobra.Command, store cache.Store, resource string) error {
	if err := errors.ValidateResource(resource); err != nil {
		return err
	}
	key := cache.Key(resource)
	doc, err := store.Load(ctx, key)
	if err != nil {
		return err
	}
	if doc == nil {
		printWarning("Nothing cached for %s", resource)
		return nil
	}

	w := cmd.OutOrStdout()
	printKeyValue(w, "Key", key)
	if doc.Sticky() {
		printKeyValue(w, "Sticky error", StyleError.Render(strconv.Itoa(doc.Headers.HTTPError)))
		return nil
	}
	if doc.Headers.LastModified != "" {
		printKeyValue(w, "Last-Modified", doc.Headers.LastModified)
	}
	if doc.Headers.Date != "" {
		printKeyValue(w, "Date", doc.Headers.Date)
	}
	if doc.Headers.Expires != "" {
		printKeyValue(w, "Expires", doc.Headers.Expires)
	}
	printKeyValue(w, "Payload", fmt.Sprintf("%d bytes", len(doc.Payload())))
	return nil
}

// cacheListCommand creates the "cache ls" subcommand.
func (c *CLI) cacheListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List cached document keys",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx, c.config())
			if err != nil {
				return err
			}
			defer store.Close()

			keys, err := listKeys(ctx, store)
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}
}

// cacheBrowseCommand creates the "cache browse" subcommand.
func (c *CLI) cacheBrowseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "browse",
		Short: "Browse cached documents interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx, c.config())
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := loadEntries(ctx, store)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				printInfo("Cache is empty")
				return nil
			}

			final, err := tea.NewProgram(NewKeyListModel(entries), tea.WithContext(ctx)).Run()
			if err != nil {
				return err
			}
			if m, ok := final.(KeyListModel); ok && m.Selected != nil {
				w := cmd.OutOrStdout()
				doc, err := store.Load(ctx, m.Selected.Key)
				if err != nil {
					return err
				}
				if doc != nil && !doc.Sticky() {
					_, err = w.Write(append(doc.Payload(), '\n'))
					return err
				}
				printKeyValue(w, "Key", m.Selected.Key)
				printKeyValue(w, "Entry", m.Selected.Status())
			}
			return nil
		},
	}
}

// listKeys returns the sorted keys held by store.
func listKeys(ctx context.Context, store cache.Store) ([]string, error) {
	lister, ok := store.(cache.Lister)
	if !ok {
		return nil, errors.New(errors.ErrCodeUnsupported, "the %s backend cannot list its keys", cache.BackendName(store))
	}
	keys, err := lister.Keys(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// loadEntries summarizes every document in store for the browser.
func loadEntries(ctx context.Context, store cache.Store) ([]CacheEntry, error) {
	keys, err := listKeys(ctx, store)
	if err != nil {
		return nil, err
	}

	entries := make([]CacheEntry, 0, len(keys))
	for _, k := range keys {
		doc, err := store.Load(ctx, k)
		if errors.Is(err, errors.ErrCodeCacheCorrupt) {
			entries = append(entries, CacheEntry{Key: k, Corrupt: true})
			continue
		}
		if err != nil {
			return nil, err
		}
		if doc == nil {
			continue
		}
		entries = append(entries, CacheEntry{
			Key:          k,
			StickyStatus: doc.Headers.HTTPError,
			Size:         len(doc.Payload()),
			LastModified: doc.LastModified(),
		})
	}
	return entries, nil
}
