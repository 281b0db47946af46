package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Sarayalth/nxapi/internal/adapters/nintendo"
	"github.com/Sarayalth/nxapi/internal/application"
	"github.com/Sarayalth/nxapi/internal/domain"
)

func refreshOptions(cmd *cobra.Command, selectUser bool) []application.RefreshOption {
	if !cmd.Flags().Changed("select") {
		return nil
	}
	return []application.RefreshOption{application.WithSelect(selectUser)}
}

func describeSession(cmd *cobra.Command, sess *application.Session) {
	out := cmd.ErrOrStderr()
	if sess.Fresh {
		fmt.Fprintf(out, "Authenticated as %s (%s)\n", sess.Record.AccountID(), sess.Service)
	} else {
		fmt.Fprintf(out, "Using cached credential for %s (%s)\n", sess.Record.AccountID(), sess.Service)
	}
	if sess.Selected {
		fmt.Fprintf(out, "Set as default user\n")
	}
}

func (c *cli) authCmd() *cobra.Command {
	var selectUser, printToken bool
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Log in with a Nintendo Account in the browser",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			login := c.app.Login()
			req, err := login.Start()
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.ErrOrStderr(), "1. Open this URL and log in:")
			fmt.Fprintln(cmd.ErrOrStderr())
			fmt.Fprintln(cmd.ErrOrStderr(), req.URL)
			fmt.Fprintln(cmd.ErrOrStderr())
			fmt.Fprintln(cmd.ErrOrStderr(), `2. On the "Linking an External Account" page, right click "Select this person" and copy the link.`)
			fmt.Fprint(cmd.ErrOrStderr(), "3. Paste the link here: ")

			link, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && link == "" {
				return fmt.Errorf("read redirect link: %w", err)
			}
			sessionToken, err := login.Complete(cmd.Context(), req, link)
			if err != nil {
				return err
			}
			if printToken {
				fmt.Fprintln(cmd.OutOrStdout(), sessionToken)
			}

			sess, err := c.app.Credentials().GetOrRefresh(cmd.Context(), sessionToken, domain.ServiceNSO, refreshOptions(cmd, selectUser)...)
			if err != nil {
				return err
			}
			describeSession(cmd, sess)
			return nil
		},
	}
	cmd.Flags().BoolVar(&selectUser, "select", false, "make this the default user (default: only if it is the sole user)")
	cmd.Flags().BoolVar(&printToken, "print-token", false, "print the session token to stdout")
	return cmd
}

// readSessionToken takes the token from args, or prompts without echo on a terminal.
func readSessionToken(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return strings.TrimSpace(args[0]), nil
	}
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "Session token: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read session token: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read session token: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (c *cli) tokenCmd() *cobra.Command {
	var selectUser, inspect bool
	var serviceName string
	cmd := &cobra.Command{
		Use:   "token [session-token]",
		Short: "Add an account with a session token",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionToken, err := readSessionToken(cmd, args)
			if err != nil {
				return err
			}
			if sessionToken == "" {
				return domain.ErrInvalidCredential
			}

			if inspect {
				info, err := nintendo.DecodeToken(sessionToken)
				if err != nil {
					return err
				}
				return printJSON(cmd, info)
			}

			service, err := domain.ParseServiceKind(serviceName)
			if err != nil {
				return err
			}
			sess, err := c.app.Credentials().GetOrRefresh(cmd.Context(), sessionToken, service, refreshOptions(cmd, selectUser)...)
			if err != nil {
				return err
			}
			describeSession(cmd, sess)
			return nil
		},
	}
	cmd.Flags().BoolVar(&selectUser, "select", false, "make this the default user (default: only if it is the sole user)")
	cmd.Flags().BoolVar(&inspect, "inspect", false, "decode the token's claims without contacting Nintendo")
	cmd.Flags().StringVar(&serviceName, "service", string(domain.ServiceNSO), "service to authenticate to (nso, pctl)")
	return cmd
}

func (c *cli) credentialCmd() *cobra.Command {
	var serviceName string
	var account accountFlags
	var renew bool
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Print a valid service credential for a linked user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			service, err := domain.ParseServiceKind(serviceName)
			if err != nil {
				return err
			}
			sessionToken, err := c.sessionToken(cmd, service, &account)
			if err != nil {
				return err
			}

			credentials := c.app.Credentials()
			get := credentials.GetOrRefresh
			if renew {
				get = credentials.Renew
			}
			sess, err := get(cmd.Context(), sessionToken, service)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"service":      sess.Service,
				"account_id":   sess.Record.AccountID(),
				"access_token": sess.Record.AccessToken(),
				"expires_at":   sess.Record.ExpiresAtMillis(),
				"fresh":        sess.Fresh,
			})
		},
	}
	cmd.Flags().StringVar(&serviceName, "service", string(domain.ServiceNSO), "service (nso, pctl)")
	account.register(cmd, false)
	cmd.Flags().BoolVar(&renew, "renew", false, "discard the cached credential and exchange again")
	return cmd
}
