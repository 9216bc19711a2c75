// Package analyzer extracts a structured signal from a task description.
package analyzer

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/fentz26/switchboard/internal/models"
)

// Field weights for the confidence score.
const (
	accountWeight  = 0.2
	regionWeight   = 0.2
	ticketWeight   = 0.2
	servicesWeight = 0.3
	minConfidence  = 0.3
)

type alias struct {
	word    string
	account string
}

// accountVocabulary is checked in order; the first hit wins.
var accountVocabulary = []alias{
	{"prod", "prod"},
	{"production", "prod"},
	{"dev", "dev"},
	{"development", "dev"},
	{"staging", "staging"},
	{"uat", "uat"},
	{"test", "test"},
}

type city struct {
	name   string
	region string
}

var regionTable = []city{
	{"tokyo", "ap-northeast-1"},
	{"singapore", "ap-southeast-1"},
	{"sydney", "ap-southeast-2"},
	{"virginia", "us-east-1"},
	{"oregon", "us-west-2"},
	{"ohio", "us-east-2"},
	{"california", "us-west-1"},
	{"mumbai", "ap-south-1"},
	{"seoul", "ap-northeast-2"},
	{"london", "eu-west-2"},
	{"paris", "eu-west-3"},
	{"frankfurt", "eu-central-1"},
}

type serviceTag struct {
	tag      string
	keywords []string
}

// serviceTags are matched independently; a text may carry any number of tags.
var serviceTags = []serviceTag{
	{"jira", []string{"jira", "ticket", "story", "bug", "devops-"}},
	{"aws", []string{"aws", "ec2", "ecs", "lambda", "s3", "rds", "dynamodb", "cloudwatch"}},
	{"terraform", []string{"terraform", "tf", "infrastructure", "iac"}},
	{"github", []string{"github", "pr", "pull request", "repository", "repo"}},
	{"cloudwatch", []string{"cloudwatch", "logs", "metrics", "alarms"}},
}

var (
	ticketPattern     = regexp.MustCompile(`(?i)[A-Z]+-[0-9]+`)
	regionCodePattern = regexp.MustCompile(`(?i)\b((?:us|eu|ap|sa|ca|me|af)-(?:north|south|east|west|central|northeast|southeast|northwest|southwest)-[0-9])\b`)
)

// Classify reads account, region, ticket and service tags out of a task
// description. It never fails; missing fields stay empty.
func Classify(text string) models.TaskSignal {
	lower := strings.ToLower(text)
	words := tokenize(lower)

	signal := models.TaskSignal{
		Account:  matchAccount(words),
		Region:   matchRegion(lower, words),
		Services: matchServices(lower, words),
	}

	if ticket := matchTicket(text); ticket != "" {
		signal.TicketID = ticket
		signal.Project = strings.SplitN(ticket, "-", 2)[0]
	}

	signal.Confidence = confidence(signal)
	return signal
}

// matchTicket returns the first ticket id that is not part of a region code.
func matchTicket(text string) string {
	regions := regionCodePattern.FindAllStringIndex(text, -1)
	for _, loc := range ticketPattern.FindAllStringIndex(text, -1) {
		inRegion := false
		for _, r := range regions {
			if loc[0] >= r[0] && loc[1] <= r[1] {
				inRegion = true
				break
			}
		}
		if !inRegion {
			return strings.ToUpper(text[loc[0]:loc[1]])
		}
	}
	return ""
}

// Fingerprint derives the stable history key for a signal.
func Fingerprint(signal models.TaskSignal) string {
	services := append([]string(nil), signal.Services...)
	sort.Strings(services)
	return signal.Account + ":" + strings.Join(services, ",")
}

func confidence(s models.TaskSignal) float64 {
	score := 0.0
	if s.Account != "" {
		score += accountWeight
	}
	if s.Region != "" {
		score += regionWeight
	}
	if s.TicketID != "" {
		score += ticketWeight
	}
	if len(s.Services) > 0 {
		score += servicesWeight
	}
	score = math.Round(score*100) / 100
	return math.Max(minConfidence, math.Min(score, 1.0))
}

func matchAccount(words []string) string {
	for _, a := range accountVocabulary {
		for _, w := range words {
			if w == a.word {
				return a.account
			}
		}
	}
	return ""
}

func matchRegion(lower string, words []string) string {
	for _, c := range regionTable {
		for _, w := range words {
			if w == c.name {
				return c.region
			}
		}
	}
	if m := regionCodePattern.FindStringSubmatch(lower); m != nil {
		return m[1]
	}
	return ""
}

func matchServices(lower string, words []string) []string {
	services := []string{}
	for _, st := range serviceTags {
		for _, kw := range st.keywords {
			if containsKeyword(lower, words, kw) {
				services = append(services, st.tag)
				break
			}
		}
	}
	return services
}

// containsKeyword matches whole words. Multi-word keywords match as
// substrings and keywords ending in '-' match as word prefixes.
func containsKeyword(text string, words []string, keyword string) bool {
	if strings.Contains(keyword, " ") {
		return strings.Contains(text, keyword)
	}
	prefix := strings.HasSuffix(keyword, "-")
	for _, w := range words {
		if w == keyword || (prefix && strings.HasPrefix(w, keyword)) {
			return true
		}
	}
	return false
}

func tokenize(lower string) []string {
	fields := strings.Fields(lower)
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		cleaned := strings.Trim(f, ".,;:!?\"'()[]{}")
		if cleaned != "" {
			words = append(words, cleaned)
		}
	}
	return words
}
