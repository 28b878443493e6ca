package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ogulcanaydogan/flow-guardian/pkg/model"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or replace a user's monitoring settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print a user's effective settings as YAML",
	RunE:  runSettingsShow,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store settings from a YAML file; omitted keys take their defaults",
	RunE:  runSettingsSet,
}

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd)

	for _, c := range []*cobra.Command{settingsShowCmd, settingsSetCmd} {
		c.Flags().Int64P("user", "u", 0, "User ID")
		_ = c.MarkFlagRequired("user")
	}
	settingsSetCmd.Flags().StringP("file", "f", "", "YAML settings file")
	_ = settingsSetCmd.MarkFlagRequired("file")
}

func runSettingsShow(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	userID, _ := cmd.Flags().GetInt64("user")

	store, err := initStorage(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	settings, err := store.GetSettings(cmd.Context(), userID)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(settings)
}

func runSettingsSet(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	userID, _ := cmd.Flags().GetInt64("user")
	path, _ := cmd.Flags().GetString("file")

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read settings file: %w", err)
	}
	settings, err := settingsFromYAML(data)
	if err != nil {
		return err
	}

	store, err := initStorage(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SaveSettings(cmd.Context(), userID, settings); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	fmt.Printf("Settings saved for user %d (scan every %ds)\n", userID, settings.Monitor.FrequencySeconds)
	return nil
}

// settingsFromYAML converts a YAML document to the stored JSON shape and
// overlays it on the defaults.
func settingsFromYAML(data []byte) (model.Settings, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return model.Settings{}, fmt.Errorf("parse settings yaml: %w", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return model.Settings{}, fmt.Errorf("convert settings: %w", err)
	}
	return model.ParseSettings(raw)
}
