package cmd

import (
	"context"
	"fmt"

	"github.com/frahmantamala/expense-approval/internal/core/events"
	"github.com/spf13/cobra"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Event management commands",
	Long:  `Replay domain events through the in-process bus, e.g. to backfill linking notifications.`,
}

var linkNotifyCmd = &cobra.Command{
	Use:   "link-notify",
	Short: "Offer a member to link their personal drafts",
	Long: `Publish organization.member_joined for an existing membership so the reactive
linking subscriber creates a pending notification when the user owns personal drafts.`,
	RunE: runLinkNotify,
}

var (
	notifyUserID string
	notifyOrgID  string
)

func runLinkNotify(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	deps, err := initializeDependencies(ctx)
	if err != nil {
		return err
	}
	defer deps.close()

	services := buildServices(deps)
	registerSubscribers(deps.Bus, services.Linking, deps.Logger)

	membership, err := services.Organization.FindMember(ctx, notifyOrgID, notifyUserID)
	if err != nil {
		return fmt.Errorf("lookup membership: %w", err)
	}
	if membership == nil {
		return fmt.Errorf("user %s is not a member of organization %s", notifyUserID, notifyOrgID)
	}

	event := events.NewMemberJoinedEvent(notifyOrgID, notifyUserID, membership.Role.String())
	deps.Logger.Info("publishing member joined event", "event_id", event.EventID(), "user_id", notifyUserID, "organization_id", notifyOrgID)

	if err := deps.Bus.PublishSync(ctx, event); err != nil {
		return fmt.Errorf("publish %s: %w", event.EventType(), err)
	}

	pending, err := services.Linking.GetPending(ctx, notifyUserID, notifyOrgID)
	if err != nil {
		return err
	}
	if pending == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "no personal drafts to link; nothing pending")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "pending notification %s\n", pending.ID)
	return nil
}

func init() {
	linkNotifyCmd.Flags().StringVar(&notifyUserID, "user", "", "user id")
	linkNotifyCmd.Flags().StringVar(&notifyOrgID, "org", "", "organization id")
	_ = linkNotifyCmd.MarkFlagRequired("user")
	_ = linkNotifyCmd.MarkFlagRequired("org")

	eventCmd.AddCommand(linkNotifyCmd)
	rootCmd.AddCommand(eventCmd)
}
