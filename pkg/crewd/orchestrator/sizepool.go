// Package orchestrator holds the lead-side logic of a crew session: sizing
// the worker pool from the task text and fanning role-specific prompts out
// to the workers.
package orchestrator

import (
	"regexp"
	"strings"
)

// Worker pool bounds. The floor holds regardless of score: even a trivial
// task gets a pair of workers so peer review stays possible.
const (
	MinWorkers = 2
	MaxWorkers = 4
)

// keywordGroups maps a domain area to the task-text tokens that signal it.
// Each group counts at most once toward the score, so a task drowning in
// frontend vocabulary still reads as one area of work.
var keywordGroups = map[string][]string{
	"ui":         {"ui", "frontend", "css", "html", "component", "components", "view", "views", "react", "design", "layout"},
	"backend":    {"backend", "api", "server", "endpoint", "endpoints", "service", "services", "handler", "handlers"},
	"data-store": {"database", "db", "sql", "sqlite", "postgres", "schema", "migration", "migrations", "storage", "cache"},
	"test":       {"test", "tests", "testing", "coverage", "regression", "regressions"},
	"deployment": {"deploy", "deployment", "release", "ci", "cd", "pipeline", "docker", "kubernetes", "infra"},
	"docs":       {"docs", "documentation", "readme", "changelog", "guide", "tutorial"},
}

// refactorKeywords signal structural work that tends to span the codebase.
var refactorKeywords = []string{"refactor", "refactoring", "rewrite", "overhaul", "restructure", "redesign"}

var numberedItem = regexp.MustCompile(`(?m)^\s*\d+[.)]`)

// SizePool derives a worker count from the task text. The heuristic is
// monotone: adding words, clause separators, or distinct domain keywords
// to a task never shrinks the pool. The result is always in
// [MinWorkers, MaxWorkers].
func SizePool(taskText string) int {
	score := 0

	words := len(strings.Fields(taskText))
	if words >= 30 {
		score++
	}
	if words >= 80 {
		score++
	}

	if seps := countClauseSeparators(taskText); seps >= 3 {
		score++
		if seps >= 8 {
			score++
		}
	}

	groups := matchedGroups(taskText)
	if groups >= 2 {
		score++
	}
	if groups >= 4 {
		score++
	}

	if containsAny(tokens(taskText), refactorKeywords) {
		score++
	}

	switch {
	case score >= 4:
		return MaxWorkers
	case score >= 2:
		return 3
	default:
		return MinWorkers
	}
}

// countClauseSeparators counts the punctuation and connectives that split
// a task into independent clauses: commas, semicolons, newlines, numbered
// list markers, and each occurrence of the word "and".
func countClauseSeparators(text string) int {
	n := strings.Count(text, ",") +
		strings.Count(text, ";") +
		strings.Count(text, "\n") +
		len(numberedItem.FindAllString(text, -1))
	for _, tok := range splitTokens(text) {
		if tok == "and" {
			n++
		}
	}
	return n
}

// matchedGroups counts how many distinct domain areas the text touches.
func matchedGroups(text string) int {
	toks := tokens(text)
	n := 0
	for _, words := range keywordGroups {
		if containsAny(toks, words) {
			n++
		}
	}
	return n
}

// splitTokens lowercases and splits on everything non-alphanumeric, so
// token matching is word-scoped ("api" does not fire on "rapid").
func splitTokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
}

func tokens(text string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range splitTokens(text) {
		set[tok] = true
	}
	return set
}

func containsAny(set map[string]bool, words []string) bool {
	for _, w := range words {
		if set[w] {
			return true
		}
	}
	return false
}
