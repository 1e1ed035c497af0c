package commands

import (
	"github.com/spf13/cobra"
)

func newSettingsCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "settings",
		Aliases: []string{"setting"},
		Short:   "Read and change closing settings",
	}

	cmd.AddCommand(newSettingsGetCommand(g), newSettingsSetCommand(g))
	return cmd
}

func newSettingsGetCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Show one setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.call(cmd, "GetSetting", map[string]interface{}{"key": args[0]})
		},
	}
}

func newSettingsSetCommand(g *globals) *cobra.Command {
	var settingType, group, description string

	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Write one setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := map[string]interface{}{
				"key":   args[0],
				"value": args[1],
				"type":  settingType,
			}
			if group != "" {
				in["group"] = group
			}
			if description != "" {
				in["description"] = description
			}
			return g.call(cmd, "SetSetting", in)
		},
	}

	cmd.Flags().StringVar(&settingType, "type", "string", "boolean, integer, decimal, date or string")
	cmd.Flags().StringVar(&group, "group", "", "setting group")
	cmd.Flags().StringVar(&description, "description", "", "setting description")
	return cmd
}
