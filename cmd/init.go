package cmd

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/Korivash/Evocore-sub000/evocore"
	"github.com/spf13/cobra"
)

var triviaQuestionsFile string

// seedQuestion is the JSON shape accepted by `init --trivia-questions`.
type seedQuestion struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	// Answer is the zero-based index of the correct option
	Answer int `json:"answer"`
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database and optionally seed the trivia pool",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		if cfg.DatabaseType == "" {
			log.Fatal("EVO_DATABASE_TYPE not set (must be one of: sqlite, postgres)")
		}
		if cfg.Database == "" {
			log.Fatal(
				"EVO_DATABASE not set (must be a valid database " +
					"connection string or sqlite file path)",
			)
		}

		db, err := evocore.CreateDB(ctx, cfg.DatabaseType, cfg.Database)
		if err != nil {
			log.Fatalf("Error creating database: %v", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Database initialized.")

		if triviaQuestionsFile == "" {
			return
		}

		data, err := os.ReadFile(triviaQuestionsFile)
		if err != nil {
			log.Fatalf("Error reading %s: %v", triviaQuestionsFile, err)
		}
		var seeds []seedQuestion
		if err = json.Unmarshal(data, &seeds); err != nil {
			log.Fatalf("Error parsing %s: %v", triviaQuestionsFile, err)
		}

		seeded := 0
		for _, seed := range seeds {
			if seed.Answer < 0 || seed.Answer >= len(seed.Options) {
				log.Fatalf(
					"question %q: answer index %d out of range",
					seed.Question,
					seed.Answer,
				)
			}
			optionsJSON, jsonErr := json.Marshal(seed.Options)
			if jsonErr != nil {
				log.Fatalf("Error encoding options: %v", jsonErr)
			}
			question := evocore.TriviaQuestion{
				Question:     seed.Question,
				OptionsJSON:  string(optionsJSON),
				CorrectIndex: seed.Answer,
			}
			if err = db.WithContext(ctx).Create(&question).Error; err != nil {
				log.Fatalf("Error saving question: %v", err)
			}
			seeded++
		}
		fmt.Fprintf(out, "Seeded %d trivia question(s).\n", seeded)
	},
}

//nolint:gochecknoinits
func init() {
	initCmd.Flags().StringVar(
		&triviaQuestionsFile,
		"trivia-questions",
		"",
		"JSON file of trivia questions to seed the pool with",
	)
	rootCmd.AddCommand(initCmd)
}
