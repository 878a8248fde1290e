package hoststate

import (
	"fmt"

	"github.com/slighter12/isocity-host-go/bridge"
)

// Panel names understood by panel.data and panel.data.request.
const (
	PanelBudget     = "budget"
	PanelStatistics = "statistics"
	PanelAdvisors   = "advisors"
)

type BudgetCategory struct {
	Key     string `json:"key"`
	Name    string `json:"name"`
	Funding int    `json:"funding"`
	Cost    int    `json:"cost"`
}

type BudgetPanel struct {
	Population int              `json:"population"`
	Jobs       int              `json:"jobs"`
	Money      int              `json:"money"`
	Income     int              `json:"income"`
	Expenses   int              `json:"expenses"`
	Categories []BudgetCategory `json:"categories"`
}

type HistoryPoint struct {
	Year       int `json:"year"`
	Month      int `json:"month"`
	Population int `json:"population"`
	Money      int `json:"money"`
	Happiness  int `json:"happiness"`
}

type StatisticsPanel struct {
	Population int            `json:"population"`
	Jobs       int            `json:"jobs"`
	Money      int            `json:"money"`
	Income     int            `json:"income"`
	Expenses   int            `json:"expenses"`
	Happiness  int            `json:"happiness"`
	History    []HistoryPoint `json:"history"`
}

type AdvisorMessage struct {
	Name     string   `json:"name"`
	Icon     string   `json:"icon"`
	Messages []string `json:"messages"`
	Priority string   `json:"priority"`
}

type AdvisorsPanel struct {
	Happiness   int              `json:"happiness"`
	Health      int              `json:"health"`
	Education   int              `json:"education"`
	Safety      int              `json:"safety"`
	Environment int              `json:"environment"`
	Messages    []AdvisorMessage `json:"advisorMessages"`
}

// strictReader decodes required fields and remembers the first one that is
// missing or has the wrong type. Once it has failed, every later read is a
// no-op returning the zero value.
type strictReader struct {
	err error
}

func (r *strictReader) fail(path, want string, v bridge.Value) {
	if r.err == nil {
		r.err = fmt.Errorf("%s: want %s, got %s", path, want, v.Kind())
	}
}

func (r *strictReader) intField(v bridge.Value, path string) int {
	if r.err != nil {
		return 0
	}
	n, ok := v.Int64()
	if !ok {
		r.fail(path, "number", v)
		return 0
	}
	return int(n)
}

func (r *strictReader) stringField(v bridge.Value, path string) string {
	if r.err != nil {
		return ""
	}
	if v.Kind() != bridge.KindString {
		r.fail(path, "string", v)
		return ""
	}
	return v.StringOr("")
}

func (r *strictReader) objectField(v bridge.Value, path string) bridge.Value {
	if r.err == nil && v.Kind() != bridge.KindObject {
		r.fail(path, "object", v)
	}
	return v
}

func (r *strictReader) arrayField(v bridge.Value, path string) []bridge.Value {
	if r.err != nil {
		return nil
	}
	items, ok := v.Array()
	if !ok {
		r.fail(path, "array", v)
		return nil
	}
	return items
}

// DecodeBudgetPanel decodes a budget panel payload. Any missing or mistyped
// field rejects the whole payload.
func DecodeBudgetPanel(data bridge.Value) (*BudgetPanel, error) {
	r := &strictReader{}
	stats := r.objectField(data.Get("stats"), "stats")
	panel := &BudgetPanel{
		Population: r.intField(stats.Get("population"), "stats.population"),
		Jobs:       r.intField(stats.Get("jobs"), "stats.jobs"),
		Money:      r.intField(stats.Get("money"), "stats.money"),
		Income:     r.intField(stats.Get("income"), "stats.income"),
		Expenses:   r.intField(stats.Get("expenses"), "stats.expenses"),
	}
	items := r.arrayField(data.Get("categories"), "categories")
	panel.Categories = make([]BudgetCategory, 0, len(items))
	for i, item := range items {
		path := fmt.Sprintf("categories[%d]", i)
		r.objectField(item, path)
		panel.Categories = append(panel.Categories, BudgetCategory{
			Key:     r.stringField(item.Get("key"), path+".key"),
			Name:    r.stringField(item.Get("name"), path+".name"),
			Funding: r.intField(item.Get("funding"), path+".funding"),
			Cost:    r.intField(item.Get("cost"), path+".cost"),
		})
	}
	if r.err != nil {
		return nil, fmt.Errorf("budget panel: %w", r.err)
	}
	return panel, nil
}

// DecodeStatisticsPanel decodes a statistics panel payload with the same
// all-or-nothing rule.
func DecodeStatisticsPanel(data bridge.Value) (*StatisticsPanel, error) {
	r := &strictReader{}
	stats := r.objectField(data.Get("stats"), "stats")
	panel := &StatisticsPanel{
		Population: r.intField(stats.Get("population"), "stats.population"),
		Jobs:       r.intField(stats.Get("jobs"), "stats.jobs"),
		Money:      r.intField(stats.Get("money"), "stats.money"),
		Income:     r.intField(stats.Get("income"), "stats.income"),
		Expenses:   r.intField(stats.Get("expenses"), "stats.expenses"),
		Happiness:  r.intField(stats.Get("happiness"), "stats.happiness"),
	}
	items := r.arrayField(data.Get("history"), "history")
	panel.History = make([]HistoryPoint, 0, len(items))
	for i, item := range items {
		path := fmt.Sprintf("history[%d]", i)
		r.objectField(item, path)
		panel.History = append(panel.History, HistoryPoint{
			Year:       r.intField(item.Get("year"), path+".year"),
			Month:      r.intField(item.Get("month"), path+".month"),
			Population: r.intField(item.Get("population"), path+".population"),
			Money:      r.intField(item.Get("money"), path+".money"),
			Happiness:  r.intField(item.Get("happiness"), path+".happiness"),
		})
	}
	if r.err != nil {
		return nil, fmt.Errorf("statistics panel: %w", r.err)
	}
	return panel, nil
}

// DecodeAdvisorsPanel decodes an advisors panel payload with the same
// all-or-nothing rule.
func DecodeAdvisorsPanel(data bridge.Value) (*AdvisorsPanel, error) {
	r := &strictReader{}
	stats := r.objectField(data.Get("stats"), "stats")
	panel := &AdvisorsPanel{
		Happiness:   r.intField(stats.Get("happiness"), "stats.happiness"),
		Health:      r.intField(stats.Get("health"), "stats.health"),
		Education:   r.intField(stats.Get("education"), "stats.education"),
		Safety:      r.intField(stats.Get("safety"), "stats.safety"),
		Environment: r.intField(stats.Get("environment"), "stats.environment"),
	}
	items := r.arrayField(data.Get("advisorMessages"), "advisorMessages")
	panel.Messages = make([]AdvisorMessage, 0, len(items))
	for i, item := range items {
		path := fmt.Sprintf("advisorMessages[%d]", i)
		r.objectField(item, path)
		message := AdvisorMessage{
			Name:     r.stringField(item.Get("name"), path+".name"),
			Icon:     r.stringField(item.Get("icon"), path+".icon"),
			Priority: r.stringField(item.Get("priority"), path+".priority"),
		}
		lines := r.arrayField(item.Get("messages"), path+".messages")
		message.Messages = make([]string, 0, len(lines))
		for j, line := range lines {
			message.Messages = append(message.Messages, r.stringField(line, fmt.Sprintf("%s.messages[%d]", path, j)))
		}
		panel.Messages = append(panel.Messages, message)
	}
	if r.err != nil {
		return nil, fmt.Errorf("advisors panel: %w", r.err)
	}
	return panel, nil
}
