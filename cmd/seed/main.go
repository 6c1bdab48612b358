package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/stemsi/codexam/internal/config"
	"github.com/stemsi/codexam/internal/database"
	"github.com/stemsi/codexam/internal/logger"
	"github.com/stemsi/codexam/internal/model"
	"github.com/stemsi/codexam/internal/repository"
)

func main() {
	class := flag.String("class", "10", "Class to seed")
	sections := flag.Int("sections", 2, "Number of sections (A, B, ...)")
	perSection := flag.Int("students", 25, "Students per section")
	accessCode := flag.String("code", "PYTHON10", "Access code for every seeded section")
	duration := flag.Int("duration", 90, "Exam duration in minutes")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	store := repository.NewStore(pool)

	fmt.Printf("=== Seeding class %s ===\n", *class)

	// ─── Sections and roster ───────────────────────────────────────────
	created := 0
	for s := 0; s < *sections; s++ {
		section := string(rune('A' + s))
		cs := &model.ClassSection{
			Class:           *class,
			Section:         section,
			AccessCode:      *accessCode,
			DurationMinutes: *duration,
		}
		if err := store.ClassSections.Upsert(ctx, cs); err != nil {
			log.Fatal().Err(err).Str("section", section).Msg("Failed to upsert class section")
		}

		for i := 0; i < *perSection; i++ {
			st := &model.Student{
				Name:       names[(s*(*perSection)+i)%len(names)],
				RollNumber: fmt.Sprintf("%s%s%03d", *class, section, i+1),
				Class:      *class,
				Section:    section,
			}
			if err := store.Students.Upsert(ctx, st); err != nil {
				fmt.Printf("Error creating student %s (%s): %v\n", st.Name, st.RollNumber, err)
				continue
			}
			created++
		}
		fmt.Printf("Section %s ready (access code %s)\n", section, *accessCode)
	}

	// ─── Question bank ────────────────────────────────────────────────
	existing, err := store.Questions.ListByClass(ctx, *class)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read question bank")
	}
	if len(existing) > 0 {
		fmt.Printf("Question bank for class %s already has %d coding questions, skipping\n", *class, len(existing))
	} else {
		for _, q := range codingQuestions(*class) {
			if err := store.Questions.Create(ctx, &q); err != nil {
				log.Fatal().Err(err).Str("title", q.Title).Msg("Failed to create coding question")
			}
		}
		for _, q := range mcqQuestions(*class) {
			if err := store.Questions.CreateMCQ(ctx, &q); err != nil {
				log.Fatal().Err(err).Msg("Failed to create MCQ question")
			}
		}
		fmt.Println("Question bank seeded")
	}

	fmt.Printf("\nSeed completed! %d students across %d sections.\n", created, *sections)
}

var names = []string{
	"Aarav Sharma", "Diya Patel", "Vihaan Gupta", "Ananya Iyer", "Arjun Reddy",
	"Ishita Nair", "Kabir Mehta", "Meera Joshi", "Rohan Das", "Saanvi Rao",
	"Aditya Kumar", "Kavya Menon", "Reyansh Singh", "Aadhya Pillai", "Krishna Verma",
	"Myra Kapoor", "Dhruv Malhotra", "Anika Bose", "Ayaan Khan", "Pari Chatterjee",
	"Vivaan Mishra", "Riya Banerjee", "Atharv Jain", "Tara Saxena", "Shaurya Agarwal",
}

func codingQuestions(class string) []model.Question {
	return []model.Question{
		{
			Title:        "Sum of Two Numbers",
			Description:  "Read two integers on one line and print their sum.",
			Class:        class,
			Difficulty:   model.DifficultyEasy,
			SampleInput:  "2 3",
			SampleOutput: "5",
			TestCases: []model.TestCase{
				{Input: "2 3", ExpectedOutput: "5"},
				{Input: "-4 10", ExpectedOutput: "6"},
				{Input: "1000000 1000000", ExpectedOutput: "2000000", Hidden: true},
			},
		},
		{
			Title:        "Reverse a String",
			Description:  "Read a line of text and print it reversed.",
			Class:        class,
			Difficulty:   model.DifficultyEasy,
			SampleInput:  "hello",
			SampleOutput: "olleh",
			TestCases: []model.TestCase{
				{Input: "hello", ExpectedOutput: "olleh"},
				{Input: "racecar", ExpectedOutput: "racecar"},
				{Input: "Python 3", ExpectedOutput: "3 nohtyP", Hidden: true},
			},
		},
		{
			Title:        "FizzBuzz Count",
			Description:  "Read n and print how many numbers from 1 to n are divisible by 3 or 5.",
			Class:        class,
			Difficulty:   model.DifficultyMedium,
			SampleInput:  "15",
			SampleOutput: "7",
			TestCases: []model.TestCase{
				{Input: "15", ExpectedOutput: "7"},
				{Input: "1", ExpectedOutput: "0"},
				{Input: "100", ExpectedOutput: "47", Hidden: true},
			},
		},
		{
			Title:        "Largest in List",
			Description:  "Read space separated integers and print the largest.",
			Class:        class,
			Difficulty:   model.DifficultyMedium,
			SampleInput:  "3 9 2",
			SampleOutput: "9",
			TestCases: []model.TestCase{
				{Input: "3 9 2", ExpectedOutput: "9"},
				{Input: "-5 -1 -7", ExpectedOutput: "-1"},
				{Input: "42", ExpectedOutput: "42", Hidden: true},
			},
		},
	}
}

func mcqQuestions(class string) []model.MCQQuestion {
	raw := []struct {
		q       string
		options [model.MCQOptionCount]string
		answer  int
	}{
		{"What does len([1, 2, 3]) return?", [4]string{"2", "3", "4", "Error"}, 1},
		{"Which keyword defines a function in Python?", [4]string{"func", "function", "def", "lambda"}, 2},
		{"What is the type of 3 / 2 in Python 3?", [4]string{"int", "float", "decimal", "str"}, 1},
		{"Which of these is immutable?", [4]string{"list", "dict", "set", "tuple"}, 3},
		{"What does range(3) produce?", [4]string{"1, 2, 3", "0, 1, 2", "0, 1, 2, 3", "3"}, 1},
		{"Which operator is integer division?", [4]string{"/", "%", "//", "**"}, 2},
		{"What is 2 ** 3?", [4]string{"6", "8", "9", "5"}, 1},
		{"How do you start a comment?", [4]string{"//", "#", "--", "/*"}, 1},
		{"Which method adds an item to a list?", [4]string{"add", "push", "append", "insert_end"}, 2},
		{"What does 'abc'.upper() return?", [4]string{"abc", "ABC", "Abc", "Error"}, 1},
		{"Which value is falsy?", [4]string{"'0'", "[0]", "0", "' '"}, 2},
		{"What is the output of print(type({}))?", [4]string{"<class 'set'>", "<class 'dict'>", "<class 'list'>", "<class 'tuple'>"}, 1},
	}
	out := make([]model.MCQQuestion, 0, len(raw))
	for _, r := range raw {
		out = append(out, model.MCQQuestion{
			Question:      r.q,
			Options:       r.options[:],
			CorrectAnswer: r.answer,
			Class:         class,
			Difficulty:    model.DifficultyEasy,
		})
	}
	return out
}
