package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/ew384/automaton-core/internal/broker"
	"github.com/ew384/automaton-core/internal/config"
	"github.com/ew384/automaton-core/internal/store"
	"github.com/ew384/automaton-core/internal/store/pg"
	"github.com/ew384/automaton-core/internal/store/sqlite"
)

type doctorCheck struct {
	name   string
	status string // "ok" | "warn" | "fail"
	detail string
}

func doctorCmd() *cobra.Command {
	var skipBrowser bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose config, storage, and browser launch problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(skipBrowser)
		},
	}
	cmd.Flags().BoolVar(&skipBrowser, "skip-browser", false, "skip the browser-launch check (useful in headless CI without Chrome installed)")
	return cmd
}

func runDoctor(skipBrowser bool) error {
	var checks []doctorCheck

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		checks = append(checks, doctorCheck{"config", "fail", err.Error()})
		printDoctorTable(checks)
		return fmt.Errorf("doctor: config load failed")
	}
	checks = append(checks, doctorCheck{"config", "ok", resolveConfigPath()})

	checks = append(checks, doctorCheckDir("upload.video_storage_dir", cfg.Upload.VideoStorageDir))
	checks = append(checks, doctorCheckDir("upload.cookie_dir", cfg.Upload.CookieDir))
	checks = append(checks, doctorCheckDir("upload.avatar_dir", cfg.Upload.AvatarDir))

	checks = append(checks, doctorCheckStore(cfg))

	if skipBrowser {
		checks = append(checks, doctorCheck{"browser", "warn", "skipped (--skip-browser)"})
	} else {
		checks = append(checks, doctorCheckBrowser(cfg))
	}

	printDoctorTable(checks)

	for _, c := range checks {
		if c.status == "fail" {
			return fmt.Errorf("doctor: one or more checks failed")
		}
	}
	return nil
}

func doctorCheckDir(name, path string) doctorCheck {
	if path == "" {
		return doctorCheck{name, "warn", "not configured, falls back to default"}
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return doctorCheck{name, "warn", fmt.Sprintf("%s does not exist yet (created on first use)", path)}
		}
		return doctorCheck{name, "fail", err.Error()}
	}
	return doctorCheck{name, "ok", path}
}

func doctorCheckStore(cfg *config.Config) doctorCheck {
	_, err := store.Open(store.StoreConfig{
		Mode:        cfg.Database.Mode,
		PostgresDSN: cfg.Database.PostgresDSN,
		SQLitePath:  cfg.Database.SQLitePath,
	}, pg.NewStores, sqlite.NewStores)
	if err != nil {
		return doctorCheck{"store", "fail", err.Error()}
	}
	mode := cfg.Database.Mode
	if mode == "" {
		mode = "standalone"
	}
	return doctorCheck{"store", "ok", mode}
}

func doctorCheckBrowser(cfg *config.Config) doctorCheck {
	br, err := broker.NewRodBroker(broker.RodBrokerConfig{Headless: true, BinPath: cfg.Broker.ChromeBin})
	if err != nil {
		return doctorCheck{"browser", "fail", err.Error()}
	}
	tabID, err := br.CreateTab(context.Background(), broker.OwnerNone, "")
	if err != nil {
		return doctorCheck{"browser", "fail", err.Error()}
	}
	br.CloseTab(context.Background(), tabID)
	return doctorCheck{"browser", "ok", "chrome launched and responded"}
}

// printDoctorTable pads the name column using rune width rather than byte
// or rune count, so CJK platform/account names (douyin, xiaohongshu cookie
// paths, ...) that doctor prints elsewhere still line up.
func printDoctorTable(checks []doctorCheck) {
	width := 0
	for _, c := range checks {
		if w := runewidth.StringWidth(c.name); w > width {
			width = w
		}
	}
	for _, c := range checks {
		pad := width - runewidth.StringWidth(c.name)
		fmt.Printf("[%-4s] %s%s  %s\n", strings.ToUpper(c.status), c.name, strings.Repeat(" ", pad), c.detail)
	}
}
