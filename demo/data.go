// Package demo provides a deterministic, in-memory stand-in for the GitHub
// API so the tool can be explored without credentials.
package demo

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/dgduncan/go-gh-cache/github"
)

const (
	// DefaultCount is the number of pull requests generated by New.
	DefaultCount = 50

	// FirstNumber is the number of the first generated pull request.
	FirstNumber = 1000

	history = 6 * 30 * 24 * time.Hour
)

var users = []github.User{
	{ID: 1, Login: "john_developer", Name: "John Developer"},
	{ID: 2, Login: "jane_coder", Name: "Jane Coder"},
	{ID: 3, Login: "mike_engineer", Name: "Mike Engineer"},
	{ID: 4, Login: "sarah_dev", Name: "Sarah Developer"},
	{ID: 5, Login: "alex_programmer", Name: "Alex Programmer"},
}

// CurrentUser is the account demo sessions act as.
var CurrentUser = users[0]

var labels = []github.Label{
	{ID: 1, Name: "bug", Color: "d73a4a", Description: "Something isn't working"},
	{ID: 2, Name: "enhancement", Color: "a2eeef", Description: "New feature or request"},
	{ID: 3, Name: "documentation", Color: "0075ca", Description: "Improvements or additions to documentation"},
	{ID: 4, Name: "good first issue", Color: "7057ff", Description: "Good for newcomers"},
	{ID: 5, Name: "help wanted", Color: "008672", Description: "Extra attention is needed"},
	{ID: 6, Name: "priority: high", Color: "ff0000", Description: "High priority issue"},
	{ID: 7, Name: "priority: medium", Color: "ffa500", Description: "Medium priority issue"},
	{ID: 8, Name: "priority: low", Color: "00ff00", Description: "Low priority issue"},
	{ID: 9, Name: "frontend", Color: "e99695", Description: "Frontend related"},
	{ID: 10, Name: "backend", Color: "c5def5", Description: "Backend related"},
	{ID: 11, Name: "database", Color: "f9d0c4", Description: "Database related"},
	{ID: 12, Name: "testing", Color: "d4c5f9", Description: "Testing related"},
	{ID: 13, Name: "refactoring", Color: "fef2c0", Description: "Code refactoring"},
	{ID: 14, Name: "performance", Color: "bfe5bf", Description: "Performance improvement"},
	{ID: 15, Name: "security", Color: "ff6b6b", Description: "Security related"},
}

// Branches are the base branches generated pull requests target.
var Branches = []string{"main", "develop", "master", "staging", "production"}

var titles = []string{
	"Fix authentication bug in login flow",
	"Add dark mode support to dashboard",
	"Implement user profile management",
	"Optimize database queries for better performance",
	"Add unit tests for payment module",
	"Refactor API endpoints for consistency",
	"Fix memory leak in image processing",
	"Add internationalization support",
	"Implement real-time notifications",
	"Update dependencies to latest versions",
	"Add error handling for network failures",
	"Improve mobile responsiveness",
	"Fix validation issues in forms",
	"Add logging for debugging purposes",
	"Implement caching mechanism",
	"Update documentation for new features",
	"Fix security vulnerability in auth",
	"Add support for multiple languages",
	"Optimize bundle size",
	"Implement progressive web app features",
	"Add accessibility improvements",
	"Fix cross-browser compatibility issues",
	"Implement data export functionality",
	"Add search filters to user interface",
	"Fix performance issues in large datasets",
	"Implement backup and restore functionality",
	"Add monitoring and analytics",
	"Fix edge cases in payment processing",
	"Implement role-based access control",
	"Add support for file uploads",
	"Fix timezone handling issues",
	"Implement email notifications",
	"Add data validation on frontend",
	"Fix memory usage in background tasks",
	"Implement API rate limiting",
	"Add support for custom themes",
	"Fix issues with data synchronization",
	"Implement audit logging",
	"Add support for bulk operations",
	"Fix issues with file compression",
	"Implement advanced search functionality",
	"Add support for third-party integrations",
	"Fix issues with data migration",
	"Implement automated testing pipeline",
	"Add support for custom fields",
	"Fix issues with data export",
	"Implement advanced reporting features",
	"Add support for workflow automation",
	"Fix issues with data import",
	"Implement advanced security features",
}

// Labels returns the demo label catalog.
func Labels() []github.Label {
	return append([]github.Label(nil), labels...)
}

// Generate returns count open pull requests numbered from FirstNumber. The
// same seed and now always produce the same pull requests.
func Generate(seed uint64, count int, now time.Time) []github.PullRequest {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	since := now.Add(-history)

	prs := make([]github.PullRequest, 0, count)
	for i := range count {
		created := since.Add(time.Duration(r.Int64N(int64(history))))
		updated := created.Add(time.Duration(r.Int64N(int64(now.Sub(created)) + 1)))

		n := r.IntN(4) + 1
		picked := make([]github.Label, 0, n)
		for _, j := range r.Perm(len(labels))[:n] {
			picked = append(picked, labels[j])
		}

		prs = append(prs, github.PullRequest{
			Number:    FirstNumber + i,
			Title:     titles[i%len(titles)],
			HTMLURL:   htmlURL(FirstNumber + i),
			State:     "open",
			CreatedAt: created.UTC(),
			UpdatedAt: updated.UTC(),
			User:      users[r.IntN(len(users))],
			Base:      github.Ref{Ref: Branches[r.IntN(len(Branches))]},
			Labels:    picked,
		})
	}
	return prs
}

func htmlURL(number int) string {
	return fmt.Sprintf("https://github.com/example/repo/pull/%d", number)
}
