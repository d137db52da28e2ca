package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	orgdomain "telemetry-ingest/backend/internal/organization/domain"
)

// orgOutput is the printed form of an organization. APIKey is only set when a key was just issued.
type orgOutput struct {
	ID             string    `json:"id"`
	Name           string    `json:"name,omitempty"`
	AllowedDomains []string  `json:"allowedDomains"`
	CreatedAt      time.Time `json:"createdAt,omitempty"`
	APIKey         string    `json:"apiKey,omitempty"`
}

// NewOrgCommand creates the org command group.
func NewOrgCommand(opts *RootOptions, open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "org",
		Short: "Create and manage organizations",
	}
	cmd.AddCommand(newCreateCommand(opts, open))
	cmd.AddCommand(newDomainsCommand(opts, open))
	cmd.AddCommand(newRotateKeyCommand(opts, open))
	cmd.AddCommand(newShowCommand(opts, open))
	return cmd
}

func newCreateCommand(opts *RootOptions, open Opener) *cobra.Command {
	var id, name string
	var domains []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an organization and print its API key",
		Long: `Create an organization with an origin whitelist and print its API key.

The API key is shown once; only its bcrypt hash is stored.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, done, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			org, apiKey, err := svc.Create(cmd.Context(), id, name, domains)
			if err != nil {
				return err
			}
			out := toOutput(org)
			out.APIKey = apiKey
			return printOrg(cmd.OutOrStdout(), opts.Format, out)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "organization id (must not contain '.')")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringSliceVar(&domains, "domain", nil, "allowed origin host, exact or *.suffix (repeatable)")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newDomainsCommand(opts *RootOptions, open Opener) *cobra.Command {
	var id string
	var domains []string
	cmd := &cobra.Command{
		Use:   "domains",
		Short: "Replace an organization's origin whitelist",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, done, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			set, err := svc.SetDomains(cmd.Context(), id, domains)
			if err != nil {
				return err
			}
			return printOrg(cmd.OutOrStdout(), opts.Format, orgOutput{ID: id, AllowedDomains: set})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "organization id")
	cmd.Flags().StringSliceVar(&domains, "domain", nil, "allowed origin host, exact or *.suffix (repeatable)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newRotateKeyCommand(opts *RootOptions, open Opener) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "rotate-key",
		Short: "Issue a new API key; the previous key stops working",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, done, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			apiKey, err := svc.RotateKey(cmd.Context(), id)
			if err != nil {
				return err
			}
			org, err := svc.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			out := toOutput(org)
			out.APIKey = apiKey
			return printOrg(cmd.OutOrStdout(), opts.Format, out)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "organization id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newShowCommand(opts *RootOptions, open Opener) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, done, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			org, err := svc.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printOrg(cmd.OutOrStdout(), opts.Format, toOutput(org))
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "organization id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func toOutput(org *orgdomain.Org) orgOutput {
	return orgOutput{ID: org.ID, Name: org.Name, AllowedDomains: org.AllowedDomains, CreatedAt: org.CreatedAt}
}

func printOrg(w io.Writer, format string, out orgOutput) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	fmt.Fprintf(w, "id:       %s\n", out.ID)
	if out.Name != "" {
		fmt.Fprintf(w, "name:     %s\n", out.Name)
	}
	fmt.Fprintf(w, "domains:  %s\n", strings.Join(out.AllowedDomains, ", "))
	if out.APIKey != "" {
		fmt.Fprintf(w, "api key:  %s\n", out.APIKey)
		fmt.Fprintln(w, "Store the API key now; it cannot be shown again.")
	}
	return nil
}
