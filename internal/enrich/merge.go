package enrich

import (
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/outreach-engine/internal/model"
)

// MergeConfig orders sources per field. The first source in a field's list
// that carries a non-empty value wins; fields without an explicit entry use
// Default. Array fields union across all sources instead of picking one.
type MergeConfig struct {
	Default []string            `yaml:"default" mapstructure:"default"`
	Fields  map[string][]string `yaml:"fields" mapstructure:"fields"`
}

// DefaultMergeConfig prefers Clearbit for firmographics, Crunchbase for
// funding, Hunter for email-pattern fields and Apollo for hiring data.
func DefaultMergeConfig() MergeConfig {
	return MergeConfig{
		Default: []string{"clearbit", "apollo", "crunchbase", "hunter"},
		Fields: map[string][]string{
			"funding_stage":     {"crunchbase", "apollo", "clearbit"},
			"total_funding":     {"crunchbase", "apollo", "clearbit"},
			"last_funding_date": {"crunchbase", "apollo"},
			"funding_rounds":    {"crunchbase"},
			"crunchbase_url":    {"crunchbase"},
			"email_pattern":     {"hunter"},
			"total_emails":      {"hunter"},
			"is_hiring":         {"apollo"},
			"open_positions":    {"apollo"},
		},
	}
}

// LoadMergeFile reads a merge priority table from a standalone YAML file.
// Omitted sections fall back to the built-in order.
func LoadMergeFile(path string) (MergeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return MergeConfig{}, eris.Wrapf(err, "enrich: read merge file %s", path)
	}
	cfg := DefaultMergeConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return MergeConfig{}, eris.Wrapf(err, "enrich: parse merge file %s", path)
	}
	return cfg, nil
}

func (m MergeConfig) order(field string) []string {
	if sources, ok := m.Fields[field]; ok && len(sources) > 0 {
		return sources
	}
	return m.Default
}

// merger accumulates per-source payloads and resolves them field by field.
type merger struct {
	cfg     MergeConfig
	sources map[string]*model.CompanyData
}

// Merge resolves one CompanyData from per-source payloads according to the
// config's priority tables. A nil map yields nil.
func Merge(cfg MergeConfig, sources map[string]*model.CompanyData) *model.CompanyData {
	if len(sources) == 0 {
		return nil
	}
	m := &merger{cfg: cfg, sources: sources}

	out := &model.CompanyData{}
	out.Domain = m.str("domain", func(c *model.CompanyData) string { return c.Domain })
	out.Name = m.str("name", func(c *model.CompanyData) string { return c.Name })
	out.LegalName = m.str("legal_name", func(c *model.CompanyData) string { return c.LegalName })
	out.Description = m.str("description", func(c *model.CompanyData) string { return c.Description })
	out.LogoURL = m.str("logo_url", func(c *model.CompanyData) string { return c.LogoURL })
	out.Website = m.str("website", func(c *model.CompanyData) string { return c.Website })

	out.Industry = m.str("industry", func(c *model.CompanyData) string { return c.Industry })
	out.IndustryGroup = m.str("industry_group", func(c *model.CompanyData) string { return c.IndustryGroup })
	out.SubIndustry = m.str("sub_industry", func(c *model.CompanyData) string { return c.SubIndustry })

	out.EmployeeCount = m.num("employee_count", func(c *model.CompanyData) int { return c.EmployeeCount })
	out.EmployeeRange = m.str("employee_range", func(c *model.CompanyData) string { return c.EmployeeRange })
	out.AnnualRevenue = m.num64("annual_revenue", func(c *model.CompanyData) int64 { return c.AnnualRevenue })
	out.RevenueRange = m.str("revenue_range", func(c *model.CompanyData) string { return c.RevenueRange })

	out.FundingStage = model.FundingStage(m.str("funding_stage", func(c *model.CompanyData) string { return string(c.FundingStage) }))
	out.TotalFunding = m.num64("total_funding", func(c *model.CompanyData) int64 { return c.TotalFunding })
	out.LastFundingDate = m.date("last_funding_date", func(c *model.CompanyData) *time.Time { return c.LastFundingDate })
	out.FundingRounds = m.num("funding_rounds", func(c *model.CompanyData) int { return c.FundingRounds })

	out.Country = m.str("country", func(c *model.CompanyData) string { return c.Country })
	out.CountryCode = m.str("country_code", func(c *model.CompanyData) string { return c.CountryCode })
	out.State = m.str("state", func(c *model.CompanyData) string { return c.State })
	out.City = m.str("city", func(c *model.CompanyData) string { return c.City })

	out.LinkedInURL = m.str("linkedin_url", func(c *model.CompanyData) string { return c.LinkedInURL })
	out.TwitterURL = m.str("twitter_url", func(c *model.CompanyData) string { return c.TwitterURL })
	out.CrunchbaseURL = m.str("crunchbase_url", func(c *model.CompanyData) string { return c.CrunchbaseURL })

	out.FoundedYear = m.num("founded_year", func(c *model.CompanyData) int { return c.FoundedYear })
	out.EmailPattern = m.str("email_pattern", func(c *model.CompanyData) string { return c.EmailPattern })
	out.TotalEmails = m.num("total_emails", func(c *model.CompanyData) int { return c.TotalEmails })

	out.IsHiring = m.boolean("is_hiring", func(c *model.CompanyData) bool { return c.IsHiring })
	out.OpenPositions = m.num("open_positions", func(c *model.CompanyData) int { return c.OpenPositions })

	out.Tags = m.union(func(c *model.CompanyData) []string { return c.Tags })
	out.TechStack = m.union(func(c *model.CompanyData) []string { return c.TechStack })
	out.RecentNews = m.news()

	return out
}

func (m *merger) str(field string, get func(*model.CompanyData) string) string {
	for _, source := range m.cfg.order(field) {
		if c, ok := m.sources[source]; ok && c != nil {
			if v := get(c); v != "" {
				return v
			}
		}
	}
	return ""
}

func (m *merger) num(field string, get func(*model.CompanyData) int) int {
	for _, source := range m.cfg.order(field) {
		if c, ok := m.sources[source]; ok && c != nil {
			if v := get(c); v != 0 {
				return v
			}
		}
	}
	return 0
}

func (m *merger) num64(field string, get func(*model.CompanyData) int64) int64 {
	for _, source := range m.cfg.order(field) {
		if c, ok := m.sources[source]; ok && c != nil {
			if v := get(c); v != 0 {
				return v
			}
		}
	}
	return 0
}

func (m *merger) date(field string, get func(*model.CompanyData) *time.Time) *time.Time {
	for _, source := range m.cfg.order(field) {
		if c, ok := m.sources[source]; ok && c != nil {
			if v := get(c); v != nil {
				return v
			}
		}
	}
	return nil
}

func (m *merger) boolean(field string, get func(*model.CompanyData) bool) bool {
	for _, source := range m.cfg.order(field) {
		if c, ok := m.sources[source]; ok && c != nil {
			if get(c) {
				return true
			}
		}
	}
	return false
}

// union collects array values across all sources in default priority order,
// deduplicating case-insensitively and preserving first-seen casing.
func (m *merger) union(get func(*model.CompanyData) []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, source := range m.allSources() {
		c := m.sources[source]
		if c == nil {
			continue
		}
		for _, v := range get(c) {
			key := strings.ToLower(strings.TrimSpace(v))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, v)
		}
	}
	return out
}

func (m *merger) news() []model.NewsItem {
	var out []model.NewsItem
	seen := make(map[string]bool)
	for _, source := range m.allSources() {
		c := m.sources[source]
		if c == nil {
			continue
		}
		for _, item := range c.RecentNews {
			key := strings.ToLower(item.Headline)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, item)
		}
	}
	return out
}

// allSources is the default order followed by any sources it omits, so
// payloads from unconfigured connectors still contribute to unions.
func (m *merger) allSources() []string {
	order := make([]string, 0, len(m.sources))
	listed := make(map[string]bool)
	for _, source := range m.cfg.Default {
		if _, ok := m.sources[source]; ok {
			order = append(order, source)
			listed[source] = true
		}
	}
	extras := make([]string, 0, len(m.sources))
	for source := range m.sources {
		if !listed[source] {
			extras = append(extras, source)
		}
	}
	sort.Strings(extras)
	return append(order, extras...)
}
