package main

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sarayalth/nxapi/internal/adapters/nintendo"
	"github.com/Sarayalth/nxapi/internal/application"
	"github.com/Sarayalth/nxapi/internal/domain"
)

// accountFlags choose which session token a command runs as.
type accountFlags struct {
	user  string
	token string
}

func (f *accountFlags) register(cmd *cobra.Command, persistent bool) {
	flags := cmd.Flags()
	if persistent {
		flags = cmd.PersistentFlags()
	}
	flags.StringVar(&f.user, "user", "", "Nintendo Account id (default: the selected user)")
	flags.StringVar(&f.token, "token", "", "session token to use instead of a linked user")
	cmd.MarkFlagsMutuallyExclusive("user", "token")
}

// sessionToken resolves --token first, then --user, then the selected user.
func (c *cli) sessionToken(cmd *cobra.Command, service domain.ServiceKind, f *accountFlags) (string, error) {
	if token := strings.TrimSpace(f.token); token != "" {
		return token, nil
	}
	sessionToken, err := c.app.Accounts().SessionTokenFor(cmd.Context(), service, f.user)
	if errors.Is(err, domain.ErrNoSelectedUser) {
		return "", fmt.Errorf("%w; run `nxapi auth` or pass --user or --token", err)
	}
	return sessionToken, err
}

func (c *cli) withNso(cmd *cobra.Command, f *accountFlags, fn func(ctx context.Context, sess *application.NsoSession) error) error {
	sessionToken, err := c.sessionToken(cmd, domain.ServiceNSO, f)
	if err != nil {
		return err
	}
	return c.app.Credentials().WithNsoClient(cmd.Context(), sessionToken, fn)
}

func (c *cli) withMoon(cmd *cobra.Command, f *accountFlags, fn func(ctx context.Context, sess *application.MoonSession) error) error {
	sessionToken, err := c.sessionToken(cmd, domain.ServicePCTL, f)
	if err != nil {
		return err
	}
	return c.app.Credentials().WithMoonClient(cmd.Context(), sessionToken, fn)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func parsePresencePermission(s string) (nintendo.PresencePermission, error) {
	switch strings.ToLower(s) {
	case "friends", "everyone":
		return nintendo.PresenceEveryone, nil
	case "favorites", "favourites", "favorite_friends":
		return nintendo.PresenceFavorites, nil
	case "self", "nobody":
		return nintendo.PresenceSelf, nil
	}
	return "", fmt.Errorf("unknown presence permission %q (friends, favorites, self)", s)
}

var monthPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

func (c *cli) nsoCmd() *cobra.Command {
	var account accountFlags
	cmd := &cobra.Command{
		Use:   "nso",
		Short: "Nintendo Switch Online app API",
	}
	account.register(cmd, true)

	cmd.AddCommand(&cobra.Command{
		Use:   "user [id]",
		Short: "Show the current NSO user, or another user by id",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id int64
			if len(args) == 1 {
				var err error
				if id, err = parseID(args[0]); err != nil {
					return err
				}
			}
			return c.withNso(cmd, &account, func(ctx context.Context, sess *application.NsoSession) error {
				if id == 0 {
					me, err := sess.Client.CurrentUser(ctx)
					if err != nil {
						return err
					}
					return printJSON(cmd, me)
				}
				user, err := sess.Client.User(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd, user)
			})
		},
	})

	cmd.AddCommand(c.friendsCmd(&account))

	cmd.AddCommand(&cobra.Command{
		Use:   "webservices",
		Short: "List game-specific web services",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withNso(cmd, &account, func(ctx context.Context, sess *application.NsoSession) error {
				services, err := sess.Client.ListWebServices(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, services)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "webservice-token <id>",
		Short: "Issue a token for a game web service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return c.withNso(cmd, &account, func(ctx context.Context, sess *application.NsoSession) error {
				token, err := sess.Client.GetWebServiceToken(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd, token)
			})
		},
	})

	cmd.AddCommand(c.permissionsCmd(&account))

	cmd.AddCommand(&cobra.Command{
		Use:   "announcements",
		Short: "List NSO app announcements",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withNso(cmd, &account, func(ctx context.Context, sess *application.NsoSession) error {
				announcements, err := sess.Client.Announcements(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, announcements)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "event [id]",
		Short: "Show the active voice chat event, or an event by id",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id int64
			if len(args) == 1 {
				var err error
				if id, err = parseID(args[0]); err != nil {
					return err
				}
			}
			return c.withNso(cmd, &account, func(ctx context.Context, sess *application.NsoSession) error {
				var (
					event nintendo.Event
					err   error
				)
				if id == 0 {
					event, err = sess.Client.ActiveEvent(ctx)
				} else {
					event, err = sess.Client.Event(ctx, id)
				}
				if err != nil {
					return err
				}
				return printJSON(cmd, event)
			})
		},
	})

	cmd.AddCommand(c.splatnet2Cmd(&account))
	return cmd
}

func (c *cli) friendsCmd(account *accountFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "friends",
		Short: "List friends and their presence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withNso(cmd, account, func(ctx context.Context, sess *application.NsoSession) error {
				friends, err := sess.Client.FriendList(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, friends.Friends)
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <nsa-id>",
		Short: "Mark a friend as a favourite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withNso(cmd, account, func(ctx context.Context, sess *application.NsoSession) error {
				if err := sess.Client.AddFavouriteFriend(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Added %s to favourites\n", args[0])
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <nsa-id>",
		Short: "Remove a friend from favourites",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withNso(cmd, account, func(ctx context.Context, sess *application.NsoSession) error {
				if err := sess.Client.RemoveFavouriteFriend(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Removed %s from favourites\n", args[0])
				return nil
			})
		},
	})
	return cmd
}

func (c *cli) permissionsCmd(account *accountFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "permissions",
		Short: "Show who can see your online presence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withNso(cmd, account, func(ctx context.Context, sess *application.NsoSession) error {
				perms, err := sess.Client.CurrentUserPermissions(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, perms)
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <friends|favorites|self>",
		Short: "Change who can see your online presence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := parsePresencePermission(args[0])
			if err != nil {
				return err
			}
			return c.withNso(cmd, account, func(ctx context.Context, sess *application.NsoSession) error {
				current, err := sess.Client.CurrentUserPermissions(ctx)
				if err != nil {
					return err
				}
				from := current.Permissions.Presence
				if from == to {
					fmt.Fprintf(cmd.ErrOrStderr(), "Presence permission is already %s\n", to)
					return nil
				}
				if err := sess.Client.UpdateCurrentUserPermissions(ctx, to, from, current.Etag); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Presence permission changed from %s to %s\n", from, to)
				return nil
			})
		},
	})
	return cmd
}

func (c *cli) splatnet2Cmd(account *accountFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "splatnet2",
		Short: "SplatNet 2 web service",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "schedules",
		Short: "Show current and upcoming stage rotations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withNso(cmd, account, func(ctx context.Context, sess *application.NsoSession) error {
				splatnet, err := c.app.Credentials().SplatNet2(ctx, sess)
				if err != nil {
					return err
				}
				schedules, err := splatnet.Schedules(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, schedules)
			})
		},
	})
	return cmd
}

func (c *cli) pctlCmd() *cobra.Command {
	var account accountFlags
	cmd := &cobra.Command{
		Use:   "pctl",
		Short: "Nintendo Switch Parental Controls API",
	}
	account.register(cmd, true)

	cmd.AddCommand(&cobra.Command{
		Use:   "devices",
		Short: "List devices under parental control",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withMoon(cmd, &account, func(ctx context.Context, sess *application.MoonSession) error {
				devices, err := sess.Client.Devices(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, devices.Items)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "daily-summaries <device-id>",
		Short: "Show daily play summaries for a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withMoon(cmd, &account, func(ctx context.Context, sess *application.MoonSession) error {
				summaries, err := sess.Client.DailySummaries(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, summaries)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "monthly-summaries <device-id> [month]",
		Short: "List monthly summaries for a device, or show one month (YYYY-MM)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 2 && !monthPattern.MatchString(args[1]) {
				return fmt.Errorf("invalid month %q, want YYYY-MM", args[1])
			}
			return c.withMoon(cmd, &account, func(ctx context.Context, sess *application.MoonSession) error {
				if len(args) == 1 {
					summaries, err := sess.Client.MonthlySummaries(ctx, args[0])
					if err != nil {
						return err
					}
					return printJSON(cmd, summaries)
				}
				summary, err := sess.Client.MonthlySummary(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd, summary)
			})
		},
	})
	return cmd
}
