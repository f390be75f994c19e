package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/sirecov/sirecov/indexing"
	"github.com/ZanzyTHEbar/sirecov/sirecov/records"
)

type getResult struct {
	Found  bool            `json:"found"`
	Record *records.Record `json:"record,omitempty"`
}

type recordsResult struct {
	Count    int              `json:"count"`
	Cached   bool             `json:"cached"`
	Records  []records.Record `json:"records"`
	Criteria string           `json:"criteria"`
}

func newAddCmd(flags *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "add <country> <date> <type> <cases>",
		Short: "Append a record to the store and index it",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			cases, err := strconv.ParseInt(args[3], 10, 64)
			if err != nil {
				return fmt.Errorf("%w: cases %q is not an integer", records.ErrInvalidRecord, args[3])
			}
			a, err := openApp(cmd, flags)
			if err != nil {
				return err
			}
			added, err := a.service.Add(cmd.Context(), records.Record{
				Country: args[0],
				Date:    args[1],
				Type:    records.CaseType(args[2]),
				Cases:   cases,
			})
			if err != nil {
				return err
			}
			return a.print(added)
		},
	}
}

func newGetCmd(flags *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get <country> <date> <type>",
		Short: "Look up one record by its natural key",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, flags)
			if err != nil {
				return err
			}
			r, ok, err := a.service.Get(cmd.Context(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			if !ok {
				return a.print(getResult{})
			}
			return a.print(getResult{Found: true, Record: &r})
		},
	}
}

func newCountryCmd(flags *cliFlags) *cobra.Command {
	var summary bool
	cmd := &cobra.Command{
		Use:   "country <name>",
		Short: "List a country's records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, flags)
			if err != nil {
				return err
			}
			coord := a.service.Coordinator()
			if summary {
				sum, ok := coord.CountrySummary(args[0])
				if !ok {
					return fmt.Errorf("no records for country %q", args[0])
				}
				return a.print(sum)
			}
			rs, hit := coord.CountryRecords(args[0])
			return a.print(recordsResult{Count: len(rs), Cached: hit, Records: rs, Criteria: "country=" + args[0]})
		},
	}
	cmd.Flags().BoolVar(&summary, "summary", false, "print totals instead of the records")
	return cmd
}

func newDateCmd(flags *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "date <YYYY-MM-DD>",
		Short: "List the records of one date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, flags)
			if err != nil {
				return err
			}
			rs, hit := a.service.Coordinator().DateRecords(args[0])
			return a.print(recordsResult{Count: len(rs), Cached: hit, Records: rs, Criteria: "date=" + args[0]})
		},
	}
}

func newTypeCmd(flags *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "type <confirmed|death|recovered>",
		Short: "List the records of one case type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !records.CaseType(args[0]).Valid() {
				return fmt.Errorf("%w: unknown case type %q", records.ErrInvalidRecord, args[0])
			}
			a, err := openApp(cmd, flags)
			if err != nil {
				return err
			}
			rs := a.service.Coordinator().LookupByType(args[0])
			return a.print(recordsResult{Count: len(rs), Records: rs, Criteria: "type=" + args[0]})
		},
	}
}

func newRangeCmd(flags *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "range <start> <end>",
		Short: "List records dated within [start, end] in date order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !records.IsValidDate(args[0]) || !records.IsValidDate(args[1]) {
				return fmt.Errorf("%w: dates must be YYYY-MM-DD", records.ErrInvalidRecord)
			}
			a, err := openApp(cmd, flags)
			if err != nil {
				return err
			}
			rs, hit := a.service.Coordinator().RangeRecords(args[0], args[1])
			return a.print(recordsResult{Count: len(rs), Cached: hit, Records: rs, Criteria: "range=" + args[0] + ".." + args[1]})
		},
	}
}

func newTopCmd(flags *cliFlags) *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "top",
		Short: "List the most critical records by case type severity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, flags)
			if err != nil {
				return err
			}
			rs := a.service.Coordinator().TopCritical(k)
			return a.print(recordsResult{Count: len(rs), Records: rs, Criteria: "top=" + strconv.Itoa(k)})
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", 10, "number of records")
	return cmd
}

func newCompleteCmd(flags *cliFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "complete [prefix]",
		Short: "Suggest country names starting with prefix",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			a, err := openApp(cmd, flags)
			if err != nil {
				return err
			}
			return a.print(a.service.Coordinator().AutocompleteCountry(prefix, limit))
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", indexing.DefaultAutocompleteLimit, "maximum suggestions")
	return cmd
}

func newStatsCmd(flags *cliFlags) *cobra.Command {
	var validate bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print diagnostics for every index structure",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, flags)
			if err != nil {
				return err
			}
			coord := a.service.Coordinator()
			if validate {
				if errs := coord.Validate(); len(errs) > 0 {
					for _, e := range errs {
						a.logger.Error().Err(e).Msg("index inconsistency")
					}
					return fmt.Errorf("%d index inconsistencies", len(errs))
				}
			}
			return a.print(coord.Stats())
		},
	}
	cmd.Flags().BoolVar(&validate, "validate", false, "check cross-structure consistency first")
	return cmd
}
