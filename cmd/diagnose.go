package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geo-analyzer/internal/model"
)

var (
	diagCompany     string
	diagProduct     string
	diagDescription string
	diagIndustry    string
	diagEmail       string
	diagIterations  int
)

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Run one diagnosis and print the report as JSON",
	Long:  "Runs one diagnosis and prints the report. When the report was built from cached responses the command waits for the catch-up run before exiting.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if diagIterations > 0 {
			cfg.Orchestrator.Iterations = diagIterations
		}

		env, err := initDiagnosis(cfg, "diagnose")
		if err != nil {
			return err
		}
		defer env.Close()

		req := model.DiagnosisRequest{
			CompanyName:        diagCompany,
			ProductName:        diagProduct,
			ProductDescription: diagDescription,
			Industry:           model.Industry(diagIndustry),
			WorkEmail:          diagEmail,
		}

		report, err := env.Engine.Run(ctx, req)
		if err != nil {
			return eris.Wrap(err, "diagnose")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return eris.Wrap(err, "encode report")
		}

		if report.Metrics.CacheNote != "" {
			zap.L().Info("waiting for catch-up run", zap.String("task_id", report.TaskID))
		}
		return nil
	},
}

func init() {
	diagnoseCmd.Flags().StringVar(&diagCompany, "company", "", "company name (required)")
	diagnoseCmd.Flags().StringVar(&diagProduct, "product", "", "product name (required)")
	diagnoseCmd.Flags().StringVar(&diagDescription, "description", "", "product description, at least 10 characters (required)")
	diagnoseCmd.Flags().StringVar(&diagIndustry, "industry", string(model.IndustrySaaS), "industry: SaaS, 消费电子, 金融, 教育 or 其他")
	diagnoseCmd.Flags().StringVar(&diagEmail, "email", "", "work email that receives report updates (required)")
	diagnoseCmd.Flags().IntVar(&diagIterations, "iterations", 0, "iterations per run (default from config)")
	_ = diagnoseCmd.MarkFlagRequired("company")
	_ = diagnoseCmd.MarkFlagRequired("product")
	_ = diagnoseCmd.MarkFlagRequired("description")
	_ = diagnoseCmd.MarkFlagRequired("email")
	rootCmd.AddCommand(diagnoseCmd)
}
