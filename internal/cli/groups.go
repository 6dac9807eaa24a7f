package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/mmynk/tripledger/internal/models"
)

// NewGroupsCommand creates the groups command.
func NewGroupsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "groups",
		Short: "List groups",
		Long:  "List the groups in the local cache, including groups created offline that are not yet synced.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGroups(cmd, opts)
		},
	}
}

func runGroups(cmd *cobra.Command, opts *RootOptions) error {
	ctx := cmd.Context()
	s, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	groups, err := s.ctrl.Groups(ctx)
	if err != nil {
		return err
	}
	if opts.Format == "json" {
		if groups == nil {
			groups = []models.Group{}
		}
		return writeJSON(cmd, groups)
	}

	if len(groups) == 0 {
		printf(cmd, "%s\n", mutedStyle.Render("No groups yet. Create one with 'tripledger create-group'."))
		return nil
	}

	rows := make([][]string, 0, len(groups))
	for _, g := range groups {
		id := g.ID
		if models.IsLocalGroupID(g.ID) {
			id = warnStyle.Render(g.ID)
		}
		rows = append(rows, []string{id, g.Name, strings.Join(g.Members, ", "), guestNames(g.Guests)})
	}
	printf(cmd, "%s\n", renderTable([]string{"ID", "Name", "Members", "Guests"}, rows))
	return nil
}

func guestNames(guests []models.Guest) string {
	names := make([]string, len(guests))
	for i, g := range guests {
		names[i] = g.Name
	}
	return strings.Join(names, ", ")
}

// CreateGroupOptions holds flags for the create-group command.
type CreateGroupOptions struct {
	*RootOptions
	Members []string
	Guests  []string
}

// NewCreateGroupCommand creates the create-group command.
func NewCreateGroupCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CreateGroupOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create-group NAME",
		Short: "Create a group",
		Long: `Create a group with you as its first member.

Other registered members are added with --member; people without an account
are added as guests with --guest. Offline, the group gets a local id that can
be used right away and is replaced by the server id after sync.`,
		Example: `  tripledger create-group "Lisbon 2026" --member bob --guest Sam
  tripledger create-group Ski --offline`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreateGroup(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringSliceVar(&opts.Members, "member", nil, "member id to add (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Guests, "guest", nil, "guest name to add (repeatable)")

	return cmd
}

func runCreateGroup(cmd *cobra.Command, opts *CreateGroupOptions, name string) error {
	ctx := cmd.Context()
	s, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	g, err := s.ctrl.CreateGroup(ctx, name, opts.Members, opts.Guests)
	if err != nil {
		return err
	}
	return printGroup(cmd, opts.RootOptions, "Created", g)
}

// NewJoinGroupCommand creates the join-group command.
func NewJoinGroupCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "join-group GROUP_ID",
		Short: "Join a group shared with you",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			g, err := s.ctrl.JoinGroup(ctx, args[0])
			if err != nil {
				return err
			}
			return printGroup(cmd, opts, "Joined", g)
		},
	}
}

func printGroup(cmd *cobra.Command, opts *RootOptions, verb string, g models.Group) error {
	if opts.Format == "json" {
		return writeJSON(cmd, g)
	}
	printf(cmd, "%s %s %s\n", verb, titleStyle.Render(g.Name), mutedStyle.Render(g.ID))
	if models.IsLocalGroupID(g.ID) {
		printf(cmd, "%s\n", warnStyle.Render("Queued until the server is reachable."))
	}
	for _, guest := range g.Guests {
		printf(cmd, "  guest %s %s\n", guest.Name, mutedStyle.Render("guest:"+guest.ID))
	}
	return nil
}
