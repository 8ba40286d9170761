package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dshills/fusionrag/internal/indexer"
	"github.com/dshills/fusionrag/internal/mcp"
	"github.com/dshills/fusionrag/internal/retrieval"
	"github.com/dshills/fusionrag/pkg/types"
)

func serveCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				a.log.Info("fusionrag starting",
					"version", version,
					"db", a.cfg.Database.Path,
					"web_search", a.cfg.WebSearch.Enabled)

				a.serveMetrics(ctx)
				srv, err := mcp.NewServer(a.store, a.indexer, a.retrieval, a.log)
				if err != nil {
					return fmt.Errorf("create MCP server: %w", err)
				}
				err = srv.Serve(ctx)
				if errors.Is(err, context.Canceled) {
					a.log.Info("shutting down")
					return nil
				}
				return err
			})
		},
	}
}

type queryFlags struct {
	tenant, user, session, persona string
	web, noSemantic, asJSON        bool
	budget                         int
}

func queryCmd(flags *globalFlags) *cobra.Command {
	qf := &queryFlags{}
	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Answer a question from the command line",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				q := types.Query{
					Text:      strings.Join(args, " "),
					TenantID:  qf.tenant,
					UserID:    qf.user,
					SessionID: qf.session,
				}
				opts := retrieval.Options{
					UseSemantic:     a.cfg.Retrieval.UseSemantic && !qf.noSemantic,
					UseWebSearch:    qf.web,
					PersonaOverride: qf.persona,
					TokenBudget:     qf.budget,
				}
				resp, err := a.retrieval.Retrieve(ctx, q, opts)
				if err != nil {
					a.log.Warn("query failed", "error", err)
					return errors.New(types.UserMessage(err))
				}
				return printResponse(cmd.OutOrStdout(), resp, qf.asJSON)
			})
		},
	}
	cmd.Flags().StringVar(&qf.tenant, "tenant", "", "Tenant ID (required)")
	cmd.Flags().StringVar(&qf.user, "user", "", "User ID (required)")
	cmd.Flags().StringVar(&qf.session, "session", "", "Session ID for conversation memory")
	cmd.Flags().StringVar(&qf.persona, "persona", "", "Force a persona instead of classifying the question")
	cmd.Flags().BoolVar(&qf.web, "web", false, "Also search the web")
	cmd.Flags().BoolVar(&qf.noSemantic, "no-semantic", false, "Skip embedding search and use keyword search only")
	cmd.Flags().IntVar(&qf.budget, "budget", 0, "Lower the context token budget")
	cmd.Flags().BoolVar(&qf.asJSON, "json", false, "Print the full response as JSON")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func printResponse(w io.Writer, resp *types.RetrievalResponse, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	_, _ = fmt.Fprintln(w, resp.Text)
	if len(resp.Sources) > 0 {
		_, _ = fmt.Fprintln(w, "\nSources:")
		for _, s := range resp.Sources {
			ref := s.Title
			if s.URL != "" {
				ref = s.URL
			}
			_, _ = fmt.Fprintf(w, "  [%d] %s %s (%s)\n", s.Marker, s.SourceType, ref, s.ID)
		}
	}
	for _, n := range resp.Notices {
		_, _ = fmt.Fprintf(w, "note: %s\n", n)
	}
	return nil
}

func ingestCmd(flags *globalFlags) *cobra.Command {
	var tenant, owner string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest documents or public records",
	}
	cmd.PersistentFlags().StringVar(&tenant, "tenant", "", "Tenant ID (required)")
	cmd.PersistentFlags().StringVar(&owner, "owner", "", "Restrict ingested items to one user")
	_ = cmd.MarkPersistentFlagRequired("tenant")

	docs := &cobra.Command{
		Use:   "documents <file>...",
		Short: "Chunk, embed and store text files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, err := readDocuments(args, owner)
			if err != nil {
				return err
			}
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				stats, err := a.indexer.IndexDocuments(ctx, tenant, inputs, nil)
				if err != nil {
					return err
				}
				printStats(cmd.OutOrStdout(), stats)
				return nil
			})
		},
	}

	records := &cobra.Command{
		Use:   "records <file.yaml>",
		Short: "Store public-record entries from a YAML list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := readRecords(args[0], owner)
			if err != nil {
				return err
			}
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				stats, err := a.indexer.IndexRecords(ctx, tenant, recs, nil)
				if err != nil {
					return err
				}
				printStats(cmd.OutOrStdout(), stats)
				return nil
			})
		},
	}

	cmd.AddCommand(docs, records)
	return cmd
}

// readDocuments loads text files as documents identified by their absolute path
func readDocuments(paths []string, owner string) ([]indexer.DocumentInput, error) {
	out := make([]indexer.DocumentInput, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			return nil, err
		}
		out = append(out, indexer.DocumentInput{
			OwnerID:   owner,
			Title:     strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs)),
			SourceURI: "file://" + filepath.ToSlash(abs),
			Content:   string(data),
		})
	}
	return out, nil
}

// recordEntry is one element of a records YAML file
type recordEntry struct {
	ProtocolNumber string `yaml:"protocol_number"`
	RecordType     string `yaml:"record_type"`
	Title          string `yaml:"title"`
	Body           string `yaml:"body"`
	Year           int    `yaml:"year"`
	Certified      bool   `yaml:"certified"`
	Anchored       bool   `yaml:"anchored"`
	Owner          string `yaml:"owner"`
}

func readRecords(path, owner string) ([]types.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []recordEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	recs := make([]types.Record, len(entries))
	for i, e := range entries {
		recOwner := e.Owner
		if recOwner == "" {
			recOwner = owner
		}
		recs[i] = types.Record{
			OwnerID:        recOwner,
			ProtocolNumber: e.ProtocolNumber,
			RecordType:     e.RecordType,
			Title:          e.Title,
			Body:           e.Body,
			Year:           e.Year,
			Certified:      e.Certified,
			Anchored:       e.Anchored,
		}
	}
	return recs, nil
}

func printStats(w io.Writer, stats *indexer.Statistics) {
	_, _ = fmt.Fprintf(w, "documents: %d indexed, %d skipped\n", stats.DocumentsIndexed, stats.DocumentsSkipped)
	_, _ = fmt.Fprintf(w, "records:   %d indexed\n", stats.RecordsIndexed)
	_, _ = fmt.Fprintf(w, "chunks: %d, embeddings: %d, failed: %d, took %s\n",
		stats.ChunksCreated, stats.EmbeddingsCreated, stats.DocumentsFailed, stats.Duration.Round(time.Millisecond))
	for _, msg := range stats.ErrorMessages {
		_, _ = fmt.Fprintf(w, "  error: %s\n", msg)
	}
}

func consentCmd(flags *globalFlags) *cobra.Command {
	var tenant, user string

	cmd := &cobra.Command{
		Use:   "consent",
		Short: "Manage user consent to retrieval processing",
	}
	cmd.PersistentFlags().StringVar(&tenant, "tenant", "", "Tenant ID (required)")
	cmd.PersistentFlags().StringVar(&user, "user", "", "User ID (required)")
	_ = cmd.MarkPersistentFlagRequired("tenant")
	_ = cmd.MarkPersistentFlagRequired("user")

	update := func(grant bool) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				scope := types.Scope{TenantID: tenant, UserID: user}
				var err error
				if grant {
					err = a.store.GrantConsent(ctx, scope)
				} else {
					err = a.store.RevokeConsent(ctx, scope)
				}
				if err != nil {
					return err
				}
				has, err := a.store.HasConsent(ctx, scope)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "consent for %s/%s: %t\n", tenant, user, has)
				return nil
			})
		}
	}

	cmd.AddCommand(
		&cobra.Command{Use: "grant", Short: "Record the user's consent", Args: cobra.NoArgs, RunE: update(true)},
		&cobra.Command{Use: "revoke", Short: "Withdraw the user's consent", Args: cobra.NoArgs, RunE: update(false)},
	)
	return cmd
}

func statusCmd(flags *globalFlags) *cobra.Command {
	var tenant string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show stored content for a tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				st, err := a.store.GetStatus(ctx, tenant)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(w, "tenant:          %s\n", st.TenantID)
				_, _ = fmt.Fprintf(w, "records:         %d\n", st.Records)
				_, _ = fmt.Fprintf(w, "documents:       %d (%d chunks)\n", st.Documents, st.Chunks)
				_, _ = fmt.Fprintf(w, "embeddings:      %d\n", st.Embeddings)
				_, _ = fmt.Fprintf(w, "chat turns:      %d\n", st.ChatTurns)
				_, _ = fmt.Fprintf(w, "consented users: %d\n", st.ConsentedUsers)
				_, _ = fmt.Fprintf(w, "database:        %.2f MB (%s)\n", st.SizeMB, st.BuildMode)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant ID (required)")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}
