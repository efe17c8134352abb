package main

import (
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/clipforge/clipforge-agent/internal/api"
)

func newSubmitCmd() *cobra.Command {
	var (
		project    string
		video      string
		subtitles  string
		startStage string
		follow     bool
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a new pipeline job",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			var resp api.SubmitJobResponse
			err := c.do(cmd.Context(), http.MethodPost, "/jobs", api.SubmitJobRequest{
				ProjectID:    project,
				VideoPath:    video,
				SubtitlePath: subtitles,
				StartStage:   startStage,
			}, &resp)
			if err != nil {
				return err
			}
			fmt.Println(resp.JobID)
			if follow {
				return followJob(cmd, c, resp.JobID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "project identifier")
	cmd.Flags().StringVar(&video, "video", "", "path to the source video")
	cmd.Flags().StringVar(&subtitles, "subtitles", "", "path to the subtitle transcript")
	cmd.Flags().StringVar(&startStage, "from", "", "resume from this stage instead of the beginning")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream progress until the job finishes")
	cmd.MarkFlagRequired("project")
	cmd.MarkFlagRequired("video")
	cmd.MarkFlagRequired("subtitles")

	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show agent status, or the status of one job",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()

			if len(args) == 1 {
				var job api.JobResponse
				if err := c.do(cmd.Context(), http.MethodGet, "/jobs/"+args[0], nil, &job); err != nil {
					return err
				}
				printJob(job)
				return nil
			}

			var status api.StatusResponse
			if err := c.do(cmd.Context(), http.MethodGet, "/status", nil, &status); err != nil {
				return err
			}
			fmt.Printf("state:        %s\n", status.State)
			fmt.Printf("jobs running: %d\n", status.JobsRunning)
			if status.Pipelines != nil {
				fmt.Printf("content:      %v\n", status.Pipelines.HasContent)
				fmt.Printf("ffmpeg:       %v\n", status.Pipelines.HasFFmpeg)
				fmt.Printf("deps:         %d/%d\n", status.Pipelines.DepsAvail, status.Pipelines.DepsTotal)
			}
			if status.LastError != "" {
				fmt.Printf("last error:   %s\n", status.LastError)
			}
			return nil
		},
	}
}

func newJobsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List known jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			var resp api.JobsResponse
			if err := c.do(cmd.Context(), http.MethodGet, "/jobs", nil, &resp); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPROJECT\tSTAGE\tPERCENT\tSTATUS\tUPDATED")
			for _, j := range resp.Jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d%%\t%s\t%s\n",
					j.ID, j.ProjectID, j.Stage, j.Percent, j.Status, j.UpdatedAt)
			}
			return w.Flush()
		},
	}
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Stream live progress for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return followJob(cmd, newClient(), args[0])
		},
	}
}

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Request cancellation of a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			if err := c.do(cmd.Context(), http.MethodPost, "/jobs/"+args[0]+"/cancel", nil, nil); err != nil {
				return err
			}
			fmt.Println("cancellation requested")
			return nil
		},
	}
}

func newResultsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "results <job-id>",
		Short: "List per-stage attempt results for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			var resp api.StageResultsResponse
			if err := c.do(cmd.Context(), http.MethodGet, "/jobs/"+args[0]+"/results", nil, &resp); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STAGE\tATTEMPT\tSTATUS\tDURATION\tERROR")
			for _, r := range resp.Results {
				fmt.Fprintf(w, "%s\t%d\t%s\t%dms\t%s\n",
					r.Stage, r.Attempt, r.Status, r.DurationMs, r.Error)
			}
			return w.Flush()
		},
	}
}

func newClipsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clips <project-id>",
		Short: "List the cut clips for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			var resp api.ClipsResponse
			if err := c.do(cmd.Context(), http.MethodGet, "/projects/"+args[0]+"/clips", nil, &resp); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tSTART\tEND\tSCORE")
			for _, clip := range resp.Clips {
				fmt.Fprintf(w, "%s\t%s\t%dms\t%dms\t%.2f\n",
					clip.ID, clip.Title, clip.StartMs, clip.EndMs, clip.Score)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			for _, col := range resp.Collections {
				fmt.Printf("collection %q: %d clips\n", col.Name, len(col.ClipIDs))
			}
			return nil
		},
	}
}

func followJob(cmd *cobra.Command, c *client, jobID string) error {
	var last api.JobResponse
	err := c.watchEvents(cmd.Context(), jobID, func(job api.JobResponse) {
		fmt.Printf("[%3d%%] %-12s %s %s\n", job.Percent, job.Stage, job.Status, job.Message)
		last = job
	})
	if err != nil {
		return err
	}
	if last.Status == "failed" {
		return fmt.Errorf("job failed: %s", last.Error)
	}
	return nil
}

func printJob(j api.JobResponse) {
	fmt.Printf("id:       %s\n", j.ID)
	fmt.Printf("project:  %s\n", j.ProjectID)
	fmt.Printf("stage:    %s (%d of %d)\n", j.Stage, j.StageIndex+1, len(j.Stages))
	fmt.Printf("percent:  %d%%\n", j.Percent)
	fmt.Printf("status:   %s\n", j.Status)
	if j.Error != "" {
		fmt.Printf("error:    %s\n", j.Error)
	}
	fmt.Printf("updated:  %s\n", j.UpdatedAt)
}
