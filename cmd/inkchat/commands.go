package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ink-chat/inkchat/config"
	"github.com/ink-chat/inkchat/internal/db"
	"github.com/ink-chat/inkchat/internal/ollama"
	"github.com/ink-chat/inkchat/internal/rag"
)

func ingestCMD(cfgPath *string) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "ingest <pdf>",
		Short: "Index a PDF as a new collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read file: %w", err)
			}
			if name == "" {
				name = rag.CollectionName(filepath.Base(args[0]), time.Now())
			}

			a, err := newApp(cmd.Context(), *cfgPath, false)
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.svc.Ingest(cmd.Context(), data, name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d chunks as %s\n", res.Chunks, res.CollectionName)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "collection name (default <stem>_<unix>.pdf)")
	return cmd
}

func askCMD(cfgPath *string) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ask <collection> <question>",
		Short: "Ask a question about an indexed PDF",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *cfgPath, false)
			if err != nil {
				return err
			}
			defer a.close()

			ans, err := a.svc.Answer(cmd.Context(), strings.Join(args[1:], " "), args[0])
			if err != nil {
				return err
			}
			return printAnswer(cmd, ans, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw answer object")
	return cmd
}

func printAnswer(cmd *cobra.Command, ans rag.Answer, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(ans)
	}
	fmt.Fprintln(out, ans.Answer)
	if len(ans.RelevantPages) > 0 {
		pages := make([]string, len(ans.RelevantPages))
		for i, p := range ans.RelevantPages {
			pages[i] = strconv.Itoa(p)
		}
		fmt.Fprintf(out, "\nPages: %s\n", strings.Join(pages, ", "))
	}
	return nil
}

func deleteCMD(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <collection>",
		Short: "Delete an indexed PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *cfgPath, false)
			if err != nil {
				return err
			}
			defer a.close()

			if _, err := a.svc.DeleteCollection(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}

func migrateCMD(cfgPath *string) *cobra.Command {
	var direction string
	var steps int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations for the pgvector backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			if err := db.Migrate(cfg.Database.ConnectionString, direction, steps); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations completed successfully")
			return nil
		},
	}
	cmd.Flags().StringVar(&direction, "direction", "up", "up or down")
	cmd.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	return cmd
}

func configCMD(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the config file",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load(*cfgPath)
				if err != nil {
					return err
				}
				cfg.Gemini.APIKey = redact(cfg.Gemini.APIKey)
				cfg.VectorIndex.Qdrant.APIKey = redact(cfg.VectorIndex.Qdrant.APIKey)
				cfg.VectorIndex.Milvus.Password = redact(cfg.VectorIndex.Milvus.Password)
				cfg.Redis.Password = redact(cfg.Redis.Password)
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				defer enc.Close()
				return enc.Encode(cfg)
			},
		},
		&cobra.Command{
			Use:   "init",
			Short: "Write the default configuration",
			RunE: func(cmd *cobra.Command, args []string) error {
				path := *cfgPath
				if path == "" {
					path = config.DefaultPath()
				}
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists", path)
				}
				if err := config.Default().Save(path); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
				return nil
			},
		},
	)
	return cmd
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

func modelsCMD(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List installed Ollama models and the one answers would use",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			selector := ollama.NewModelSelector(ollama.NewClient(cfg.Ollama.BaseURL, ""))
			models, err := selector.ListModels(cmd.Context())
			if err != nil {
				return err
			}
			chosen, err := selector.GetDefaultModel(cmd.Context(), cfg.Ollama.DefaultModel)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, m := range models {
				marker := " "
				if m.Name == chosen {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %-32s %6.1f GB\n", marker, m.Name, float64(m.Size)/(1<<30))
			}
			return nil
		},
	}
}
