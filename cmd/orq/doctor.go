package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/orquestrix/internal/actor"
	"github.com/zulandar/orquestrix/internal/config"
	"github.com/zulandar/orquestrix/internal/db"
	"github.com/zulandar/orquestrix/internal/remote"
	"github.com/zulandar/orquestrix/internal/scheduler"
	"gorm.io/gorm"
)

// doctorRemoteTimeout bounds the model listing used as a connectivity probe.
const doctorRemoteTimeout = 15 * time.Second

func newDoctorCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, database and API access",
		Long:  "Runs diagnostic checks on Orquestrix prerequisites: config, database, schema, actor, sync schedule and OpenAI API access.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, configPath, nil)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

type checkResult struct {
	name   string
	status string // "PASS", "FAIL", "WARN"
	detail string
}

func runDoctor(cmd *cobra.Command, configPath string, gw remote.Gateway) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Orquestrix Doctor")
	fmt.Fprintln(out, "=================")

	var results []checkResult

	cfg, cfgResult := checkConfig(configPath)
	results = append(results, cfgResult)

	if cfg == nil {
		for _, name := range []string{"Database", "Schema", "Actor", "Sync schedule", "OpenAI API"} {
			results = append(results, checkResult{name, "FAIL", "skipped (no config)"})
		}
	} else {
		gormDB, dbResult := checkDatabase(cfg.Database)
		results = append(results, dbResult)
		if gormDB != nil {
			results = append(results, checkSchema(gormDB), checkActor(gormDB, cfg.Actor.Username))
		} else {
			results = append(results,
				checkResult{"Schema", "FAIL", "skipped (no database)"},
				checkResult{"Actor", "FAIL", "skipped (no database)"})
		}
		results = append(results, checkSchedule(cfg.Sync.Schedule))
		remoteResult, available := checkRemote(cmd.Context(), cfg, gw)
		results = append(results, remoteResult)
		if available != nil {
			results = append(results, checkModels(cfg, available))
		}
	}

	passed, failed, warned := 0, 0, 0
	for _, r := range results {
		printCheckResult(out, r)
		switch r.status {
		case "PASS":
			passed++
		case "FAIL":
			failed++
		case "WARN":
			warned++
		}
	}

	fmt.Fprintf(out, "\n%d passed, %d failed, %d warning\n", passed, failed, warned)

	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}

func printCheckResult(out io.Writer, r checkResult) {
	fmt.Fprintf(out, "[%s] %s: %s\n", r.status, r.name, r.detail)
}

func checkConfig(path string) (*config.Config, checkResult) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, checkResult{"Config file", "FAIL", fmt.Sprintf("%s: %v", path, err)}
	}
	return cfg, checkResult{"Config file", "PASS", path}
}

func checkDatabase(cfg config.DatabaseConfig) (*gorm.DB, checkResult) {
	location := db.Location(cfg)
	gormDB, err := db.Connect(cfg)
	if err != nil {
		return nil, checkResult{"Database", "FAIL", fmt.Sprintf("%s: %v", location, err)}
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, checkResult{"Database", "FAIL", fmt.Sprintf("get sql.DB: %v", err)}
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, checkResult{"Database", "FAIL", fmt.Sprintf("%s ping failed: %v", location, err)}
	}
	return gormDB, checkResult{"Database", "PASS", location}
}

func checkSchema(gormDB *gorm.DB) checkResult {
	tables, err := db.ListTables(gormDB)
	if err != nil {
		return checkResult{"Schema", "FAIL", err.Error()}
	}
	expected := len(db.AllModels()) + len(db.JoinTables)
	actual := len(tables)
	if actual >= expected {
		return checkResult{"Schema", "PASS", fmt.Sprintf("%d/%d tables migrated", actual, expected)}
	}
	return checkResult{"Schema", "WARN", fmt.Sprintf("%d/%d tables migrated (run \"orq db init\")", actual, expected)}
}

func checkActor(gormDB *gorm.DB, username string) checkResult {
	user, err := actor.Resolve(gormDB, username)
	if err != nil {
		return checkResult{"Actor", "FAIL", fmt.Sprintf("%q: %v (run \"orq db seed\")", username, err)}
	}
	return checkResult{"Actor", "PASS", fmt.Sprintf("%s (id %d)", user.Username, user.ID)}
}

func checkSchedule(expr string) checkResult {
	if expr == "" {
		return checkResult{"Sync schedule", "PASS", "disabled"}
	}
	if err := scheduler.Validate(expr); err != nil {
		return checkResult{"Sync schedule", "FAIL", err.Error()}
	}
	return checkResult{"Sync schedule", "PASS", expr}
}

// checkRemote lists models as a connectivity probe and returns the listed
// ids on success. gw overrides the HTTP client when non-nil.
func checkRemote(ctx context.Context, cfg *config.Config, gw remote.Gateway) (checkResult, map[string]bool) {
	if gw == nil {
		if cfg.OpenAI.APIKey == "" {
			return checkResult{"OpenAI API", "WARN", "no API key (set OPENAI_API_KEY)"}, nil
		}
		client, err := remote.New(remote.Options{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Timeout: doctorRemoteTimeout,
		})
		if err != nil {
			return checkResult{"OpenAI API", "FAIL", err.Error()}, nil
		}
		gw = client
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, doctorRemoteTimeout)
	defer cancel()

	list, err := gw.ListModels(ctx)
	if err != nil {
		return checkResult{"OpenAI API", "FAIL", fmt.Sprintf("%s: %v", cfg.OpenAI.BaseURL, err)}, nil
	}
	available := make(map[string]bool, len(list))
	for _, m := range list {
		available[m.ID] = true
	}
	return checkResult{"OpenAI API", "PASS", fmt.Sprintf("%s reachable, %d models", cfg.OpenAI.BaseURL, len(list))}, available
}

// checkModels warns when a configured default model is not offered remotely.
func checkModels(cfg *config.Config, available map[string]bool) checkResult {
	detail := fmt.Sprintf("chat %s, worker %s", cfg.OpenAI.ChatModel, cfg.OpenAI.WorkerModel)
	var missing []string
	for _, m := range []string{cfg.OpenAI.ChatModel, cfg.OpenAI.WorkerModel} {
		if !available[m] {
			missing = append(missing, m)
		}
	}
	if len(missing) > 0 {
		return checkResult{"Models", "WARN", fmt.Sprintf("%s (not listed: %s)", detail, strings.Join(missing, ", "))}
	}
	return checkResult{"Models", "PASS", detail}
}
