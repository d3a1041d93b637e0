// Package export renders collected agents for download.
package export

import (
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/artpar/realty-collector/internal/core/domain"
)

// ErrNoAgents is returned when there is nothing to write.
var ErrNoAgents = errors.New("no agents to write")

// AgentColumns is the CSV header. The phoneNumbers object is flattened into
// the trailing cell, business and brokerage columns.
var AgentColumns = []string{
	"encodedZuid",
	"businessName",
	"fullName",
	"location",
	"phoneNumber",
	"profileLink",
	"saleCountAllTime",
	"saleCountLastYear",
	"salePriceRangeThreeYearMin",
	"salePriceRangeThreeYearMax",
	"isTeamLead",
	"isTopAgent",
	"email",
	"specialties",
	"websites",
	"ranking",
	"page",
	"cell",
	"business",
	"brokerage",
}

// WriteAgentsCSV writes one row per agent under AgentColumns.
func WriteAgentsCSV(w io.Writer, agents []domain.Agent) error {
	if len(agents) == 0 {
		return ErrNoAgents
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(AgentColumns); err != nil {
		return err
	}
	for _, a := range agents {
		if err := cw.Write(agentRow(a)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func agentRow(a domain.Agent) []string {
	urls := make([]string, 0, len(a.Websites))
	for _, site := range a.Websites {
		urls = append(urls, site.URL)
	}

	var phones domain.Phones
	if a.PhoneNumbers != nil {
		phones = *a.PhoneNumbers
	}

	return []string{
		a.EncodedZUID,
		str(a.BusinessName),
		str(a.FullName),
		str(a.Location),
		str(a.PhoneNumber),
		str(a.ProfileLink),
		num(a.SaleCountAllTime),
		num(a.SaleCountLastYear),
		num(a.SalePriceRangeThreeYearMin),
		num(a.SalePriceRangeThreeYearMax),
		boolean(a.IsTeamLead),
		boolean(a.IsTopAgent),
		str(a.Email),
		strings.Join(a.Specialties, ","),
		strings.Join(urls, ","),
		num(a.Ranking),
		num(a.Page),
		phones.Cell,
		phones.Business,
		phones.Brokerage,
	}
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func num(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}

func boolean(p *bool) string {
	if p == nil {
		return ""
	}
	return strconv.FormatBool(*p)
}
