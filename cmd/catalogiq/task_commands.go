package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	"github.com/abrahamrini7-jpg/catalogIQ/internal/config"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/notifications"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/task"
)

func newTaskCommand(ctx *commandContext) *cobra.Command {
	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Manage photo-processing tasks",
	}

	taskCmd.AddCommand(newTaskAddCommand(ctx))
	taskCmd.AddCommand(newTaskListCommand(ctx))
	taskCmd.AddCommand(newTaskShowCommand(ctx))
	taskCmd.AddCommand(newTaskAddPhotoCommand(ctx))
	taskCmd.AddCommand(newTaskRetryCommand(ctx))

	return taskCmd
}

func newTaskAddCommand(ctx *commandContext) *cobra.Command {
	var (
		sku         string
		productName string
		title       string
		locale      string
		photos      []string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a task for a SKU and queue it for processing",
		RunE: func(cmd *cobra.Command, args []string) error {
			sku = strings.TrimSpace(sku)
			if sku == "" {
				return fmt.Errorf("--sku is required")
			}
			if len(photos) == 0 {
				return fmt.Errorf("at least one --photo is required")
			}

			normalizedLocale, err := normalizeLocale(locale)
			if err != nil {
				return err
			}

			return ctx.withStore(func(cfg *config.Config, store *task.Store) error {
				t := &task.Task{
					SKU: sku,
					Metadata: task.Metadata{
						ProductName: strings.TrimSpace(productName),
						Title:       strings.TrimSpace(title),
						Locale:      normalizedLocale,
						PhotoURLs:   photos,
					},
				}
				t.SetStatus(task.StatusUploaded)
				t.AppendLog(task.AgentUploader, task.ActionTaskCreated,
					fmt.Sprintf("task created for %s with %d photos", sku, len(photos)))
				for position, photo := range photos {
					t.AppendLog(task.AgentUploader, task.ActionPhotoUploaded,
						fmt.Sprintf("registered photo %d at %s", position+1, photo))
				}

				if err := store.Insert(cmd.Context(), t); err != nil {
					return err
				}

				notifier := notifications.NewService(cfg)
				if err := notifier.NotifyTaskCreated(cmd.Context(), sku, len(photos)); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: notification failed: %v\n", err)
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Created task %d for %s (%d photos)\n", t.ID, sku, len(photos))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&sku, "sku", "", "Product SKU (unique per task)")
	cmd.Flags().StringVar(&productName, "name", "", "Product name")
	cmd.Flags().StringVar(&title, "title", "", "Display title for published media")
	cmd.Flags().StringVar(&locale, "locale", "", "Catalog locale, e.g. en-US")
	cmd.Flags().StringArrayVar(&photos, "photo", nil, "Photo path (repeatable)")
	return cmd
}

// normalizeLocale canonicalizes a BCP 47 tag so "en_us" and "en-US" store the
// same value.
func normalizeLocale(locale string) (string, error) {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		return "", nil
	}
	tag, err := language.Parse(strings.ReplaceAll(locale, "_", "-"))
	if err != nil {
		return "", fmt.Errorf("invalid locale %q: %w", locale, err)
	}
	return tag.String(), nil
}

func newTaskListCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			var statuses []task.Status
			if trimmed := strings.TrimSpace(statusFilter); trimmed != "" {
				status, ok := task.ParseStatus(trimmed)
				if !ok {
					return fmt.Errorf("unknown status %q (expected one of %v)", trimmed, task.AllStatuses())
				}
				statuses = append(statuses, status)
			}

			return ctx.withStore(func(cfg *config.Config, store *task.Store) error {
				tasks, err := store.List(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(tasks) == 0 {
					fmt.Fprintln(out, "No tasks")
					return nil
				}

				colorize := shouldColorize(out)
				rows := make([][]string, 0, len(tasks))
				for _, t := range tasks {
					rows = append(rows, []string{
						strconv.FormatInt(t.ID, 10),
						t.SKU,
						renderStatus(t.Status, colorize),
						strconv.Itoa(t.WorkflowStep),
						strconv.Itoa(len(t.Metadata.PhotoURLs)),
						strconv.Itoa(t.Retry.Count),
						t.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "SKU", "Status", "Step", "Photos", "Retries", "Updated"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "Filter by status (UPLOADED, COLOR_CORRECTED, PUBLISHED, FAILED)")
	return cmd
}

func renderStatus(status task.Status, colorize bool) string {
	if !colorize {
		return string(status)
	}
	switch status {
	case task.StatusPublished:
		return ansiGreen + string(status) + ansiReset
	case task.StatusFailed:
		return ansiRed + string(status) + ansiReset
	default:
		return string(status)
	}
}

func newTaskShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task as JSON, including its audit log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			return ctx.withStore(func(cfg *config.Config, store *task.Store) error {
				t, err := store.GetByID(cmd.Context(), id)
				if err != nil {
					return err
				}
				if t == nil {
					return fmt.Errorf("task %d not found", id)
				}
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(taskView(t))
			})
		},
	}
}

// taskView shapes a task for JSON output.
func taskView(t *task.Task) map[string]any {
	return map[string]any{
		"id":              t.ID,
		"sku":             t.SKU,
		"status":          t.Status,
		"workflow_step":   t.WorkflowStep,
		"metadata":        t.Metadata,
		"color_analysis":  t.ColorAnalysis,
		"publish_results": t.PublishResults,
		"agent_log":       t.AgentLog,
		"retry_metadata":  t.Retry,
		"created_at":      t.CreatedAt,
		"updated_at":      t.UpdatedAt,
	}
}

func newTaskAddPhotoCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "add-photo <task-id> <photo-path>",
		Short: "Register another photo on a task that has not started processing",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			photo := strings.TrimSpace(args[1])
			if photo == "" {
				return fmt.Errorf("photo path required")
			}
			return ctx.withStore(func(cfg *config.Config, store *task.Store) error {
				t, err := store.AppendPhoto(cmd.Context(), id, photo)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %d now has %d photos\n", t.ID, len(t.Metadata.PhotoURLs))
				return nil
			})
		},
	}
}

func newTaskRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <task-id>",
		Short: "Reset a FAILED task to the start of the step it failed in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			return ctx.withStore(func(cfg *config.Config, store *task.Store) error {
				t, err := store.ResetFailed(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %d reset to %s\n", t.ID, t.Status)
				return nil
			})
		},
	}
}
