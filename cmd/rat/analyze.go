package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/rat/internal/conversation"
	"github.com/kalambet/rat/internal/domain"
	"github.com/kalambet/rat/internal/export"
	"github.com/kalambet/rat/internal/ingest"
	"github.com/kalambet/rat/internal/storage"
)

// --- threads ---

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "Browse requirement-analysis threads of the selected project",
}

var threadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List analysis threads",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			projectID, err := a.projectID()
			if err != nil {
				return err
			}
			threads, err := a.client.ListThreads(cmd.Context(), projectID)
			if err != nil {
				return err
			}
			writeThreads(cmd.OutOrStdout(), threads)
			return nil
		})
	},
}

func writeThreads(w io.Writer, threads []domain.ThreadSummary) {
	if len(threads) == 0 {
		fmt.Fprintln(w, "No threads yet.")
		return
	}
	for _, t := range threads {
		fmt.Fprintf(w, "%s  %s  %s\n",
			colorize(colorCyan, t.ThreadID),
			colorize(colorDim, fmt.Sprintf("%s, %d messages", t.LastMessageAt, t.MessageCount)),
			truncate(strings.ReplaceAll(t.FirstMessage.Text(), "\n", " "), 60),
		)
	}
}

var threadsShowCmd = &cobra.Command{
	Use:   "show <thread-id>",
	Short: "Print the messages of a thread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		return withApp(cmd.Context(), func(a *app) error {
			projectID, err := a.projectID()
			if err != nil {
				return err
			}
			msgs, err := a.client.ThreadMessages(cmd.Context(), projectID, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), msgs)
			}
			for _, m := range msgs {
				writeMessage(cmd.OutOrStdout(), m)
			}
			return nil
		})
	},
}

var threadsTranscriptCmd = &cobra.Command{
	Use:   "transcript <thread-id>",
	Short: "Render a thread as a standalone HTML document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		return withApp(cmd.Context(), func(a *app) error {
			projectID, err := a.projectID()
			if err != nil {
				return err
			}
			msgs, err := a.client.ThreadMessages(cmd.Context(), projectID, args[0])
			if err != nil {
				return err
			}
			title := "Thread " + args[0]

			if output == "" {
				return export.RenderTranscript(cmd.OutOrStdout(), title, msgs)
			}
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			if err := export.RenderTranscript(f, title, msgs); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			printSuccess("Transcript written to %s", output)
			return nil
		})
	},
}

func init() {
	threadsShowCmd.Flags().Bool("json", false, "print raw messages as JSON")
	threadsTranscriptCmd.Flags().StringP("output", "o", "", "write to file instead of stdout")
	threadsCmd.AddCommand(threadsListCmd, threadsShowCmd, threadsTranscriptCmd)
}

// --- analyze ---

// reportProgress prints a step line whenever the flow status changes.
func reportProgress(flow *conversation.Flow) {
	last := conversation.Idle
	flow.OnChange(func(s conversation.Snapshot) {
		if s.Status == last {
			return
		}
		last = s.Status
		switch s.Status {
		case conversation.Sending:
			printStep("Sending...")
		case conversation.Analyzing:
			printStep("Analyzing...")
		}
	})
}

// submit sends text through flow and prints the newest assistant reply.
func submit(ctx context.Context, w io.Writer, flow *conversation.Flow, text string) error {
	if err := flow.Submit(ctx, text); err != nil {
		return err
	}
	snap := flow.Snapshot()
	if m, ok := lastAIMessage(snap.Messages); ok {
		writeMessage(w, m)
	}
	return nil
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [text...]",
	Short: "Analyze a requirement, starting a new thread or continuing one",
	RunE: func(cmd *cobra.Command, args []string) error {
		threadID, _ := cmd.Flags().GetString("thread")
		file, _ := cmd.Flags().GetString("file")

		text := strings.Join(args, " ")
		if file != "" {
			if text != "" {
				return errors.New("pass either text or --file, not both")
			}
			var err error
			if text, err = ingest.ReadRequirement(file); err != nil {
				return err
			}
		}
		if err := domain.ValidateAnalyzeText(text); err != nil {
			return err
		}

		return withApp(cmd.Context(), func(a *app) error {
			projectID, err := a.projectID()
			if err != nil {
				return err
			}
			flow := conversation.New(a.client, projectID, conversation.WithLogger(slog.Default()))
			if threadID != "" {
				if err := flow.SelectThread(cmd.Context(), threadID); err != nil {
					return err
				}
			}
			reportProgress(flow)

			if err := submit(cmd.Context(), cmd.OutOrStdout(), flow, text); err != nil {
				return err
			}
			printStatus("Thread", "%s", flow.Snapshot().ThreadID)
			return nil
		})
	},
}

func init() {
	analyzeCmd.Flags().StringP("thread", "t", "", "continue an existing thread")
	analyzeCmd.Flags().StringP("file", "f", "", "read the requirement from a text or PDF file")
}

// --- chat ---

const chatHelp = `Commands:
  /new          start a new thread
  /threads      list threads
  /open <id>    switch to a thread
  /quit         leave`

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive requirement-analysis session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			projectID, err := a.projectID()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			flow := conversation.New(a.client, projectID, conversation.WithLogger(slog.Default()))
			if err := flow.LoadThreads(ctx); err != nil {
				printWarning("loading threads: %v", err)
			}
			reportProgress(flow)

			fmt.Fprintln(cmd.ErrOrStderr(), chatHelp)
			scanner := bufio.NewScanner(cmd.InOrStdin())
			scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
			for {
				prompt := "new"
				if id := flow.Snapshot().ThreadID; id != "" {
					prompt = truncate(id, 8)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "%s> ", prompt)
				if !scanner.Scan() {
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())

				switch {
				case line == "":
					continue
				case line == "/quit" || line == "/exit":
					return nil
				case line == "/new":
					flow.NewThread()
				case line == "/threads":
					if err := flow.LoadThreads(ctx); err != nil {
						printError("%v", err)
						continue
					}
					writeThreads(out, flow.Snapshot().Threads)
				case strings.HasPrefix(line, "/open "):
					id := strings.TrimSpace(strings.TrimPrefix(line, "/open "))
					if err := flow.SelectThread(ctx, id); err != nil {
						printError("%v", err)
						continue
					}
					for _, m := range flow.Snapshot().Messages {
						writeMessage(out, m)
					}
				case strings.HasPrefix(line, "/"):
					fmt.Fprintln(cmd.ErrOrStderr(), chatHelp)
				default:
					if err := submit(ctx, out, flow, line); err != nil {
						printError("%v", err)
					}
				}
			}
		})
	},
}

// --- testcases ---

var testcasesCmd = &cobra.Command{
	Use:   "testcases",
	Short: "Download generated test cases as xlsx",
}

// saveDownload writes a workbook, logs it locally and prints its contents.
func saveDownload(cmd *cobra.Command, a *app, kind export.Kind, id string, data []byte) error {
	dir, _ := cmd.Flags().GetString("dir")

	name := export.FileName(kind, id, time.Now())
	path, err := export.Save(dir, name, data)
	if err != nil {
		return err
	}
	if _, err := a.store.RecordDownload(storage.Download{
		Kind:       string(kind),
		ResourceID: id,
		Path:       path,
		SizeBytes:  int64(len(data)),
	}); err != nil {
		printWarning("recording download: %v", err)
	}
	printSuccess("Saved %s", path)

	wb, err := export.Inspect(data)
	if err != nil {
		printWarning("%v", err)
		return nil
	}
	out := cmd.OutOrStdout()
	for _, s := range wb.Sheets {
		fmt.Fprintf(out, "  %s  %s\n", colorize(colorBold, s.Name), colorize(colorDim, fmt.Sprintf("%d rows", s.Rows)))
	}
	return nil
}

var testcasesThreadCmd = &cobra.Command{
	Use:   "thread <thread-id>",
	Short: "Download test cases generated for a thread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			projectID, err := a.projectID()
			if err != nil {
				return err
			}
			printStep("Generating test cases...")
			dl, err := a.client.ThreadTestCases(cmd.Context(), projectID, args[0])
			if err != nil {
				return err
			}
			return saveDownload(cmd, a, export.KindThread, args[0], dl.Data)
		})
	},
}

var testcasesAppCmd = &cobra.Command{
	Use:   "app <app-id>",
	Short: "Download test cases for every thread touching an app",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appID, err := parseID("app id", args[0])
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(a *app) error {
			projectID, err := a.projectID()
			if err != nil {
				return err
			}
			printStep("Generating test cases...")
			dl, err := a.client.AppTestCases(cmd.Context(), projectID, appID)
			if err != nil {
				return err
			}
			return saveDownload(cmd, a, export.KindApp, strconv.FormatInt(appID, 10), dl.Data)
		})
	},
}

var testcasesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show recently downloaded workbooks",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp(cmd.Context(), func(a *app) error {
			downloads, err := a.store.RecentDownloads(limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(downloads) == 0 {
				fmt.Fprintln(out, "No downloads yet.")
				return nil
			}
			for _, d := range downloads {
				fmt.Fprintf(out, "%s  %-6s %-12s  %s  %s\n",
					colorize(colorDim, d.CreatedAt.Local().Format("2006-01-02 15:04")),
					d.Kind, truncate(d.ResourceID, 12), d.Path,
					colorize(colorDim, fmt.Sprintf("%d bytes", d.SizeBytes)),
				)
			}
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{testcasesThreadCmd, testcasesAppCmd} {
		c.Flags().String("dir", ".", "directory to save the workbook in")
	}
	testcasesListCmd.Flags().Int("limit", 20, "maximum number of entries")
	testcasesCmd.AddCommand(testcasesThreadCmd, testcasesAppCmd, testcasesListCmd)
}
