package main

import (
	"fmt"
	"slices"

	"github.com/matheus3301/inbox/internal/model"
	"github.com/matheus3301/inbox/internal/signature"
	"github.com/spf13/cobra"
)

var signaturesCmd = &cobra.Command{
	Use:   "signatures",
	Short: "Manage signature templates",
}

var signaturesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List signature templates in selection order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout(cmd)
		defer cancel()

		ts, err := e.client.Signatures(ctx)
		if err != nil {
			return fmt.Errorf("list signatures: %w", err)
		}
		out := cmd.OutOrStdout()
		if flagJSON {
			return writeJSON(out, ts)
		}
		if len(ts) == 0 {
			fmt.Fprintln(out, "No signatures.")
			return nil
		}
		w := newTable(out)
		fmt.Fprintln(w, "ID\tNAME\tSCOPE\tVARIANT\tACTIVE\tDEFAULT")
		for _, t := range ts {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%t\n", t.ID, t.Name, orDash(t.Scope), orDash(string(t.Variant)), t.Active, t.Default)
		}
		return w.Flush()
	},
}

var signaturesPreviewChannel string

var signaturesPreviewCmd = &cobra.Command{
	Use:   "preview [draft]",
	Short: "Render the signature a send on a channel would use",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		channel := model.Channel(signaturesPreviewChannel)
		if !channel.Valid() {
			return fmt.Errorf("invalid channel %q", signaturesPreviewChannel)
		}
		e, err := setup()
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout(cmd)
		defer cancel()

		ts, err := e.client.Signatures(ctx)
		if err != nil {
			return fmt.Errorf("list signatures: %w", err)
		}
		var draft string
		if len(args) > 0 {
			draft = args[0]
		}
		fmt.Fprintln(cmd.OutOrStdout(), signature.Resolve(draft, ts, channel, e.cfg.Agent.Signature, e.cfg.Agent.Profile))
		return nil
	},
}

var signatureFlags struct {
	name     string
	scope    string
	variant  string
	inactive bool
	isDef    bool
	body     string
	logo     string
	links    map[string]string
	position int
}

var signaturesSetCmd = &cobra.Command{
	Use:   "set <id>",
	Short: "Create or replace a signature template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout(cmd)
		defer cancel()

		f := signatureFlags
		position := f.position
		if position < 0 {
			// Append after the existing templates unless replacing one.
			ts, err := e.client.Signatures(ctx)
			if err != nil {
				return fmt.Errorf("list signatures: %w", err)
			}
			position = len(ts)
			if i := slices.IndexFunc(ts, func(t signature.Template) bool { return t.ID == args[0] }); i >= 0 {
				position = i
			}
		}
		t := signature.Template{
			ID:      args[0],
			Name:    f.name,
			Scope:   f.scope,
			Variant: signature.Variant(f.variant),
			Active:  !f.inactive,
			Default: f.isDef,
			Body:    f.body,
			Links:   f.links,
			LogoURL: f.logo,
		}
		if err := e.client.SaveSignature(ctx, t, position); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved signature %s.\n", t.ID)
		return nil
	},
}

var signaturesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a signature template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout(cmd)
		defer cancel()

		if err := e.client.DeleteSignature(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted signature %s.\n", args[0])
		return nil
	},
}

func init() {
	fs := signaturesSetCmd.Flags()
	fs.StringVar(&signatureFlags.name, "name", "", "display name")
	fs.StringVar(&signatureFlags.scope, "scope", signature.ScopeAll, "channel the template applies to, or all")
	fs.StringVar(&signatureFlags.variant, "variant", string(signature.VariantPlain), "plain or logo")
	fs.BoolVar(&signatureFlags.inactive, "inactive", false, "store the template disabled")
	fs.BoolVar(&signatureFlags.isDef, "default", false, "make this a default for its scope")
	fs.StringVar(&signatureFlags.body, "body", "", "template body; {{ name }} style placeholders")
	fs.StringVar(&signatureFlags.logo, "logo-url", "", "logo image for the logo variant")
	fs.StringToStringVar(&signatureFlags.links, "link", nil, "social link, e.g. --link website=https://example.com")
	fs.IntVar(&signatureFlags.position, "position", -1, "selection order (default: keep or append)")
	_ = signaturesSetCmd.MarkFlagRequired("name")

	signaturesPreviewCmd.Flags().StringVar(&signaturesPreviewChannel, "channel", string(model.ChannelEmail), "channel to render for")

	signaturesCmd.AddCommand(signaturesListCmd, signaturesPreviewCmd, signaturesSetCmd, signaturesDeleteCmd)
	rootCmd.AddCommand(signaturesCmd)
}
