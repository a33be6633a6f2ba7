package domain

import "strings"

// Category is the feedback classification emitted mid-stream by the
// feedback service.
type Category int

const (
	CategoryUnclassified Category = iota
	CategoryStronglyWrong
	CategoryWeaklyWrong
	CategoryUndefined
	CategoryWeaklyRight
	CategoryStronglyRight
)

// Severity is the display tier a category maps to.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityWrong
	SeverityNeutral
	SeverityRight
)

// CategoryDisplay carries the user-facing rendering of a category.
type CategoryDisplay struct {
	Label    string
	Severity Severity
}

var categoryDisplays = map[Category]CategoryDisplay{
	CategoryUnclassified:  {Label: "", Severity: SeverityNone},
	CategoryStronglyWrong: {Label: "Wrong answer", Severity: SeverityWrong},
	CategoryWeaklyWrong:   {Label: "Mostly wrong", Severity: SeverityWrong},
	CategoryUndefined:     {Label: "Inconclusive", Severity: SeverityNeutral},
	CategoryWeaklyRight:   {Label: "Mostly right", Severity: SeverityRight},
	CategoryStronglyRight: {Label: "Right answer", Severity: SeverityRight},
}

// Display returns the label and severity tier for a category. Categories
// outside the known set render as a wrong answer: an unrecognized signal
// still means the service judged the solution, so it must not vanish.
func (c Category) Display() CategoryDisplay {
	if d, ok := categoryDisplays[c]; ok {
		return d
	}
	return CategoryDisplay{Label: "Wrong answer", Severity: SeverityWrong}
}

func (c Category) String() string {
	switch c {
	case CategoryUnclassified:
		return "unclassified"
	case CategoryStronglyWrong:
		return "strongly_wrong"
	case CategoryWeaklyWrong:
		return "weakly_wrong"
	case CategoryUndefined:
		return "undefined"
	case CategoryWeaklyRight:
		return "weakly_right"
	case CategoryStronglyRight:
		return "strongly_right"
	}
	return "unclassified"
}

// ParseCategory maps a raw wire signal to a Category. Signals arrive with
// spaces, underscores or mixed case ("weakly right", "STRONGLY_WRONG").
// Unrecognized non-empty signals map to CategoryWeaklyWrong so they surface
// as a wrong answer instead of being silently ignored.
func ParseCategory(raw string) Category {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "_", " ")
	s = strings.ReplaceAll(s, "-", " ")
	s = strings.Join(strings.Fields(s), " ")

	switch s {
	case "":
		return CategoryUnclassified
	case "strongly wrong":
		return CategoryStronglyWrong
	case "weakly wrong":
		return CategoryWeaklyWrong
	case "undefined":
		return CategoryUndefined
	case "weakly right":
		return CategoryWeaklyRight
	case "strongly right":
		return CategoryStronglyRight
	default:
		return CategoryWeaklyWrong
	}
}
