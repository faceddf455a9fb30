package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ashwinyue/family-health/internal/client"
)

func newLoginCmd(o *options) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("FH_PASSWORD")
			}
			if username == "" || password == "" {
				return fmt.Errorf("username and password are required")
			}
			c, err := o.newClient(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := o.context(cmd)
			defer cancel()
			s, err := c.Login(ctx, username, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s (%s)\n", username, s.Role)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "Username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (or set FH_PASSWORD)")
	return cmd
}

func newLogoutCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the refresh token and remove the local session",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.newClient(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := o.context(cmd)
			defer cancel()
			if err := c.Logout(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return nil
		},
	}
}

func newHealthCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the service is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.newClient(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := o.context(cmd)
			defer cancel()
			if err := c.Health(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func newSessionsCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{Use: "sessions", Short: "Manage chat sessions"}

	var page, size int
	var query string
	list := &cobra.Command{
		Use:   "list",
		Short: "List chat sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.newClient(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := o.context(cmd)
			defer cancel()
			res, err := c.ListSessions(ctx, page, size, query)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE\tUPDATED")
			for _, s := range res.Items {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", s.ID, s.Title, s.UpdatedAt.Format("2006-01-02 15:04"))
			}
			fmt.Fprintf(tw, "\ntotal: %d\n", res.Total)
			return tw.Flush()
		},
	}
	list.Flags().IntVar(&page, "page", 1, "Page number")
	list.Flags().IntVar(&size, "page-size", 20, "Page size")
	list.Flags().StringVarP(&query, "query", "q", "", "Filter by title")

	var title, role string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.newClient(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := o.context(cmd)
			defer cancel()
			s, err := c.CreateSession(ctx, title, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s.ID)
			return nil
		},
	}
	create.Flags().StringVarP(&title, "title", "t", "", "Session title")
	create.Flags().StringVar(&role, "role", "", "Role id from the role library")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a chat session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.newClient(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := o.context(cmd)
			defer cancel()
			return c.DeleteSession(ctx, args[0])
		},
	}

	cmd.AddCommand(list, create, del)
	return cmd
}

func newAskCmd(o *options) *cobra.Command {
	var sessionID, profileID string
	var kbIDs []string
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask the health agent and stream the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.newClient(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := o.context(cmd)
			defer cancel()
			if sessionID == "" {
				s, err := c.CreateSession(ctx, "", "")
				if err != nil {
					return err
				}
				sessionID = s.ID
			}
			out := cmd.OutOrStdout()
			_, err = c.Ask(ctx, &client.AskRequest{
				SessionID:        sessionID,
				Query:            strings.Join(args, " "),
				KBIDs:            kbIDs,
				RuntimeProfileID: profileID,
			}, func(delta string) {
				fmt.Fprint(out, delta)
			})
			fmt.Fprintln(out)
			return err
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id, a new session is created when empty")
	cmd.Flags().StringSliceVar(&kbIDs, "kb", nil, "Knowledge base ids to search")
	cmd.Flags().StringVar(&profileID, "profile", "", "Runtime profile id")
	return cmd
}

func newKBCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{Use: "kb", Short: "Knowledge bases"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List knowledge bases",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.newClient(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := o.context(cmd)
			defer cancel()
			kbs, err := c.ListKnowledgeBases(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tSCOPE")
			for _, kb := range kbs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", kb.ID, kb.Name, kb.Status, kb.MemberScope)
			}
			return tw.Flush()
		},
	}

	var topK int
	query := &cobra.Command{
		Use:   "query <kb-id> <text>",
		Short: "Search a knowledge base",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.newClient(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := o.context(cmd)
			defer cancel()
			res, err := c.Retrieve(ctx, args[0], strings.Join(args[1:], " "), topK)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, it := range res {
				fmt.Fprintf(out, "[%d] %.3f %s\n%s\n\n", i+1, it.Score, it.Source.MaskedPath, it.Text)
			}
			return nil
		},
	}
	query.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of chunks to return")

	cmd.AddCommand(list, query)
	return cmd
}

func newExportCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{Use: "export", Short: "Sanitized data exports"}

	var types []string
	var raw bool
	var scope string
	create := &cobra.Command{
		Use:   "create",
		Short: "Queue an export job",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.newClient(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := o.context(cmd)
			defer cancel()
			job, err := c.CreateExport(ctx, &client.ExportRequest{MemberScope: scope, ExportTypes: types, IncludeRawFile: raw})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", job.ID, job.Status)
			return nil
		},
	}
	create.Flags().StringSliceVar(&types, "type", []string{"chat", "kb"}, "Export types: chat, kb")
	create.Flags().BoolVar(&raw, "raw", false, "Include original uploaded files")
	create.Flags().StringVar(&scope, "scope", "", "Member scope recorded in the manifest")

	list := &cobra.Command{
		Use:   "list",
		Short: "List export jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.newClient(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := o.context(cmd)
			defer cancel()
			jobs, err := c.ListExports(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tTYPES\tCREATED")
			for _, j := range jobs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", j.ID, j.Status, strings.Join(j.ExportTypes, ","), j.CreatedAt.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}

	var output string
	download := &cobra.Command{
		Use:   "download <job-id>",
		Short: "Download a finished export archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.newClient(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := o.context(cmd)
			defer cancel()
			if output == "" {
				output = args[0] + ".zip"
			}
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			n, err := c.DownloadExport(ctx, args[0], f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				_ = os.Remove(output)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", output, n)
			return nil
		},
	}
	download.Flags().StringVarP(&output, "output", "o", "", "Output file, defaults to <job-id>.zip")

	cmd.AddCommand(create, list, download)
	return cmd
}

func newRulesCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{Use: "rules", Short: "Desensitization rules"}

	var scope string
	preview := &cobra.Command{
		Use:   "preview <text>",
		Short: "Show how text is masked by the current rules",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.newClient(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := o.context(cmd)
			defer cancel()
			res, err := c.PreviewMasking(ctx, strings.Join(args, " "), scope)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.MaskedText)
			return nil
		},
	}
	preview.Flags().StringVar(&scope, "scope", "", "Member scope, defaults to global")

	cmd.AddCommand(preview)
	return cmd
}
