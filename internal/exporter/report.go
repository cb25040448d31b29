package exporter

import (
	"fmt"
	"sort"
	"strconv"

	"streamlytics/internal/analysis"
)

// Report file names written by ExportReport.
const (
	BaselineDeviationsFile = "baseline_deviations.csv"
	CategoryDeviationsFile = "category_deviations.csv"
	CoefficientsFile       = "coefficients.csv"
	MarginalEffectsFile    = "marginal_effects.csv"
	ClusterAssignmentsFile = "cluster_assignments.csv"
	ClusterSummariesFile   = "cluster_summaries.csv"
	KSelectionFile         = "k_selection.csv"
)

// ExportReport writes every result table of an analysis run under outDir.
func ExportReport(report *analysis.Report, outDir string) error {
	w := NewCSVWriter(outDir)

	if err := exportBaselines(w, report); err != nil {
		return fmt.Errorf("export baselines: %w", err)
	}
	if err := exportCategoryDeviations(w, report); err != nil {
		return fmt.Errorf("export category deviations: %w", err)
	}
	if err := exportCoefficients(w, report); err != nil {
		return fmt.Errorf("export coefficients: %w", err)
	}
	if err := exportMarginals(w, report); err != nil {
		return fmt.Errorf("export marginal effects: %w", err)
	}
	if err := exportClusters(w, report); err != nil {
		return fmt.Errorf("export clusters: %w", err)
	}
	return nil
}

func exportBaselines(w *CSVWriter, report *analysis.Report) error {
	var records [][]string
	for _, br := range report.Baselines {
		for _, ev := range br.Events {
			records = append(records, []string{
				string(br.Metric),
				ev.Date.Format("2006-01"),
				formatFloat(ev.Actual),
				formatFloat(ev.Predicted),
				formatFloat(ev.DeviationPct),
				formatFloat(br.Model.Slope),
				formatFloat(br.Model.RSquared),
			})
		}
	}
	return w.WriteCSV(BaselineDeviationsFile, WriteOptions{
		Headers: []string{"metric", "month", "actual", "predicted", "deviation_pct", "trend_slope", "r_squared"},
		Records: records,
	})
}

func exportCategoryDeviations(w *CSVWriter, report *analysis.Report) error {
	records := make([][]string, 0, len(report.CategoryDeviations))
	for _, cd := range report.CategoryDeviations {
		records = append(records, []string{
			cd.Category,
			cd.Date.Format("2006-01"),
			formatFloat(cd.Actual),
			formatFloat(cd.Predicted),
			formatFloat(cd.DeviationPct),
		})
	}
	return w.WriteCSV(CategoryDeviationsFile, WriteOptions{
		Headers: []string{"category", "month", "actual", "predicted", "deviation_pct"},
		Records: records,
	})
}

func exportCoefficients(w *CSVWriter, report *analysis.Report) error {
	var records [][]string
	for _, e := range report.Regression.Effects {
		records = append(records, []string{
			e.Name,
			formatFloat(e.Coefficient),
			formatFloat(e.StdErr),
			formatFloat(e.PValue),
		})
	}
	records = append(records,
		[]string{"random_intercept_variance", formatFloat(report.Regression.RandomInterceptVariance), "", ""},
		[]string{"residual_variance", formatFloat(report.Regression.ResidualVariance), "", ""},
		[]string{"icc", formatFloat(report.Regression.ICC), "", ""},
		[]string{"null_model_icc", formatFloat(report.NullModel.ICC), "", ""},
	)
	return w.WriteCSV(CoefficientsFile, WriteOptions{
		Headers: []string{"term", "estimate", "std_err", "p_value"},
		Records: records,
	})
}

func exportMarginals(w *CSVWriter, report *analysis.Report) error {
	predictors := make([]string, 0, len(report.Marginals))
	for name := range report.Marginals {
		predictors = append(predictors, name)
	}
	sort.Strings(predictors)

	var records [][]string
	for _, name := range predictors {
		for _, pt := range report.Marginals[name] {
			records = append(records, []string{
				name,
				formatFloat(pt.Value),
				formatFloat(pt.Predicted),
				formatFloat(pt.Lower),
				formatFloat(pt.Upper),
			})
		}
	}
	return w.WriteCSV(MarginalEffectsFile, WriteOptions{
		Headers: []string{"predictor", "value", "predicted", "ci_lower", "ci_upper"},
		Records: records,
	})
}

func exportClusters(w *CSVWriter, report *analysis.Report) error {
	clusters := report.Clusters

	assignRecords := make([][]string, 0, len(clusters.Assignments))
	for _, a := range clusters.Assignments {
		assignRecords = append(assignRecords, []string{
			strconv.Itoa(a.StreamerID),
			strconv.Itoa(a.ClusterID),
			formatFloat(a.PC1),
			formatFloat(a.PC2),
		})
	}
	if err := w.WriteCSV(ClusterAssignmentsFile, WriteOptions{
		Headers: []string{"streamer_id", "cluster_id", "pc1", "pc2"},
		Records: assignRecords,
	}); err != nil {
		return err
	}

	featureNames := make([]string, 0)
	if len(clusters.Summaries) > 0 {
		for name := range clusters.Summaries[0].FeatureMeans {
			featureNames = append(featureNames, name)
		}
		sort.Strings(featureNames)
	}
	headers := append([]string{"cluster_id", "label", "member_count", "mean_follower_gain"}, featureNames...)
	summaryRecords := make([][]string, 0, len(clusters.Summaries))
	for _, s := range clusters.Summaries {
		rec := []string{
			strconv.Itoa(s.ClusterID),
			s.Label,
			strconv.Itoa(s.MemberCount),
			formatFloat(s.MeanFollowerGain),
		}
		for _, name := range featureNames {
			rec = append(rec, formatFloat(s.FeatureMeans[name]))
		}
		summaryRecords = append(summaryRecords, rec)
	}
	if err := w.WriteCSV(ClusterSummariesFile, WriteOptions{
		Headers: headers,
		Records: summaryRecords,
		// Labels may carry commas; BOM keeps Excel happy with UTF-8.
		BOMPrefix: true,
	}); err != nil {
		return err
	}

	sweepRecords := make([][]string, 0, len(clusters.Sweep))
	for _, pt := range clusters.Sweep {
		sweepRecords = append(sweepRecords, []string{
			strconv.Itoa(pt.K),
			formatFloat(pt.WSS),
		})
	}
	return w.WriteCSV(KSelectionFile, WriteOptions{
		Headers: []string{"k", "wss"},
		Records: sweepRecords,
	})
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 10, 64)
}
