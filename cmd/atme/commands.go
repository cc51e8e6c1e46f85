package main

import (
	"atme/domain"
	"atme/projection"
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gookit/color"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

type credentials struct {
	email       string
	password    string
	deviceToken string
}

func (c credentials) signIn(ctx context.Context, a *app) (domain.Identity, error) {
	var token *string
	if c.deviceToken != "" {
		token = lo.ToPtr(c.deviceToken)
	}
	identity, _, err := a.accounts.SignIn(ctx, c.email, c.password, token)
	return identity, err
}

func newRootCommand(a *app) *cobra.Command {
	creds := &credentials{}
	root := &cobra.Command{
		Use:           "atme",
		Short:         "Direct messaging between registered users",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVar(&creds.email, "email", os.Getenv("ATME_EMAIL"), "account email")
	root.PersistentFlags().StringVar(&creds.password, "password", os.Getenv("ATME_PASSWORD"), "account password")
	root.PersistentFlags().StringVar(&creds.deviceToken, "device-token", "", "push notification token of this device")

	root.AddCommand(
		newRegisterCommand(a, creds),
		newUsernameCommand(a, creds),
		newSignOutCommand(a, creds),
		newPasswordCommand(a, creds),
		newPictureCommand(a, creds),
		newSearchCommand(a, creds),
		newStartCommand(a, creds),
		newConversationsCommand(a, creds),
		newChatCommand(a, creds),
		newInspectCommand(a),
	)
	return root
}

func newRegisterCommand(a *app, creds *credentials) *cobra.Command {
	var firstName, lastName, username string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and choose its username",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			exists, err := a.directory.UsernameExists(ctx, username)
			if err != nil {
				return err
			}
			if exists {
				return fmt.Errorf("username %q is already taken", username)
			}
			uid, err := a.accounts.Register(ctx, creds.email, creds.password, firstName, lastName)
			if err != nil {
				return err
			}
			if err := a.accounts.SetUsername(ctx, uid, username); err != nil {
				return fmt.Errorf("account %s created without username: %w", uid, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s as %s\n", creds.email, color.New(color.FgGreen).Render(username))
			return nil
		},
	}
	cmd.Flags().StringVar(&firstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&lastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&username, "username", "", "unique username")
	_ = cmd.MarkFlagRequired("first-name")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func newUsernameCommand(a *app, creds *credentials) *cobra.Command {
	return &cobra.Command{
		Use:   "username <name>",
		Short: "Choose the username of an account registered without one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := a.accounts.Authenticate(cmd.Context(), creds.email, creds.password)
			if err != nil {
				return err
			}
			return a.accounts.SetUsername(cmd.Context(), uid, args[0])
		},
	}
}

func newSignOutCommand(a *app, creds *credentials) *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Stop push notifications to this account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			identity, err := creds.signIn(cmd.Context(), a)
			if err != nil {
				return err
			}
			return a.accounts.SignOut(cmd.Context(), identity)
		},
	}
}

func newPasswordCommand(a *app, creds *credentials) *cobra.Command {
	return &cobra.Command{
		Use:   "password <new-password>",
		Short: "Change the account password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, err := creds.signIn(cmd.Context(), a)
			if err != nil {
				return err
			}
			return a.accounts.ChangePassword(cmd.Context(), identity.ID, creds.password, args[0])
		},
	}
}

func newPictureCommand(a *app, creds *credentials) *cobra.Command {
	return &cobra.Command{
		Use:   "picture <image-file>",
		Short: "Set the profile picture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, err := creds.signIn(cmd.Context(), a)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			path, err := a.accounts.SetDisplayPicture(cmd.Context(), identity.ID, data)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s at %s\n", humanize.Bytes(uint64(len(data))), path)
			return nil
		},
	}
}

func newSearchCommand(a *app, creds *credentials) *cobra.Command {
	return &cobra.Command{
		Use:   "search <prefix>",
		Short: "Find users by username prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, err := creds.signIn(cmd.Context(), a)
			if err != nil {
				return err
			}
			profiles, err := a.directory.Search(cmd.Context(), args[0], identity.ID)
			if err != nil {
				return err
			}
			table := newTable(cmd.OutOrStdout(), "Username", "Name")
			for _, profile := range profiles {
				table.Append([]string{profile.Username, profile.Name})
			}
			table.Render()
			return nil
		},
	}
}

func newStartCommand(a *app, creds *credentials) *cobra.Command {
	return &cobra.Command{
		Use:   "start <username>",
		Short: "Start a conversation with another user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, err := creds.signIn(cmd.Context(), a)
			if err != nil {
				return err
			}
			other, err := a.directory.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			conversationID, err := a.conversations.StartConversation(cmd.Context(), identity, other.UID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), conversationID)
			return nil
		},
	}
}

func newConversationsCommand(a *app, creds *credentials) *cobra.Command {
	return &cobra.Command{
		Use:   "conversations",
		Short: "List conversations with their latest message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			identity, err := creds.signIn(ctx, a)
			if err != nil {
				return err
			}
			conversationIDs, err := a.conversations.Conversations(ctx, identity)
			if err != nil {
				return err
			}
			table := newTable(cmd.OutOrStdout(), "Conversation", "With", "Last message", "When", "Unread")
			for _, conversationID := range conversationIDs {
				row, err := summarize(ctx, a, identity, conversationID)
				if err != nil {
					return err
				}
				table.Append(row)
			}
			table.Render()
			return nil
		},
	}
}

func summarize(ctx context.Context, a *app, identity domain.Identity, conversationID domain.ConversationID) ([]string, error) {
	participants, err := a.store.Participants(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	others, err := a.directory.Details(ctx, lo.Without(participants, identity.ID))
	if err != nil {
		return nil, err
	}
	recent, err := a.messageLog.Recent(ctx, conversationID, a.config.WindowSize)
	if err != nil {
		return nil, err
	}
	seen, _, err := a.store.LastSeen(ctx, conversationID, identity.ID)
	if err != nil {
		return nil, err
	}

	timeline := projection.NewTimeline(identity.ID)
	for _, message := range recent {
		timeline.Add(message)
	}
	preview, when := "", ""
	if last, ok := timeline.Last(); ok {
		preview = last.Preview()
		when = humanize.Time(last.Timestamp)
	}
	names := lo.Map(others, func(profile domain.Profile, _ int) string { return profile.Username })
	return []string{
		string(conversationID),
		strings.Join(names, ", "),
		preview,
		when,
		fmt.Sprint(timeline.UnreadAfter(seen)),
	}, nil
}

func newChatCommand(a *app, creds *credentials) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <conversation-id>",
		Short: "Open a conversation, type lines to send, /pic <file> for a picture, /quit to leave",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			identity, err := creds.signIn(ctx, a)
			if err != nil {
				return err
			}
			conversationID := domain.ConversationID(args[0])
			participants, err := a.store.Participants(ctx, conversationID)
			if err != nil {
				return err
			}
			profiles, err := a.directory.Details(ctx, participants)
			if err != nil {
				return err
			}

			sink := newTerminalSink(cmd.OutOrStdout(), identity, profiles)
			conversation, err := a.conversations.OpenSession(ctx, conversationID, identity, sink)
			if err != nil {
				return err
			}
			defer conversation.Close()

			return chatLoop(ctx, cmd.InOrStdin(), cmd.ErrOrStderr(), func(line string) error {
				if path, ok := strings.CutPrefix(line, "/pic "); ok {
					data, err := os.ReadFile(strings.TrimSpace(path))
					if err != nil {
						return err
					}
					_, err = conversation.SendAttachment(ctx, data)
					return err
				}
				_, err := conversation.SendText(ctx, line)
				return err
			})
		},
	}
}

// chatLoop feeds stdin lines to send until /quit, end of input or cancellation.
// Send errors are reported and do not end the chat.
func chatLoop(ctx context.Context, in io.Reader, errOut io.Writer, send func(line string) error) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			switch {
			case line == "":
				continue
			case line == "/quit":
				return nil
			}
			if err := send(line); err != nil {
				fmt.Fprintln(errOut, color.New(color.FgRed).Render(err.Error()))
			}
		}
	}
}
