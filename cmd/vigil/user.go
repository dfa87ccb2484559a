package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vigilsec/vigil/pkg/types"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var userCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a user account",
	Long: `Create a user account in the state store.

Permissions name the commands the user may run, e.g. start_task or
delete_task. Admins hold every permission implicitly. --hosts limits
which hosts the user may scan; with --hosts-allow the list is an
allow list, otherwise a deny list.`,
	Args: cobra.ExactArgs(1),
	RunE: runUserCreate,
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List user accounts",
	RunE:  runUserList,
}

func init() {
	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userListCmd)

	for _, c := range []*cobra.Command{userCreateCmd, userListCmd} {
		c.Flags().String("config", "", "Path to YAML config file")
		c.Flags().String("state-dir", "", "Directory for database and runtime state")
	}
	userCreateCmd.Flags().Bool("admin", false, "Grant every permission")
	userCreateCmd.Flags().StringSlice("permission", nil, "Permission to grant (repeatable)")
	userCreateCmd.Flags().String("hosts", "", "Comma list of hosts the user may or may not scan")
	userCreateCmd.Flags().Bool("hosts-allow", false, "Treat --hosts as an allow list instead of a deny list")

	rootCmd.AddCommand(userCmd)
}

func runUserCreate(cmd *cobra.Command, args []string) error {
	name := args[0]
	admin, _ := cmd.Flags().GetBool("admin")
	perms, _ := cmd.Flags().GetStringSlice("permission")
	hosts, _ := cmd.Flags().GetString("hosts")
	hostsAllow, _ := cmd.Flags().GetBool("hosts-allow")

	store, _, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	user := &types.User{
		ID:          uuid.New().String(),
		Name:        name,
		Admin:       admin,
		Permissions: perms,
		Hosts:       hosts,
		HostsAllow:  hostsAllow,
	}
	if err := store.CreateUser(user); err != nil {
		return fmt.Errorf("failed to create user: %v", err)
	}

	fmt.Printf("✓ User '%s' created\n", name)
	fmt.Printf("  ID: %s\n", user.ID)
	return nil
}

func runUserList(cmd *cobra.Command, args []string) error {
	store, _, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	users, err := store.ListUsers()
	if err != nil {
		return fmt.Errorf("failed to list users: %v", err)
	}
	if len(users) == 0 {
		fmt.Println("No users found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tADMIN\tPERMISSIONS\tHOSTS")
	for _, u := range users {
		admin := "no"
		if u.Admin {
			admin = "yes"
		}
		perms := strings.Join(u.Permissions, ",")
		if perms == "" {
			perms = "-"
		}
		hosts := "-"
		if u.Hosts != "" {
			mode := "deny"
			if u.HostsAllow {
				mode = "allow"
			}
			hosts = fmt.Sprintf("%s: %s", mode, u.Hosts)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", u.ID, u.Name, admin, perms, hosts)
	}
	return w.Flush()
}
