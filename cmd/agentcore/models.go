package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	"github.com/aws/aws-sdk-go-v2/service/bedrock/types"
	"github.com/spf13/cobra"
)

func newModelsCmd() *cobra.Command {
	var provider string
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List Bedrock foundation models that produce text",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
			if err != nil {
				return fmt.Errorf("load aws config: %w", err)
			}

			input := &bedrock.ListFoundationModelsInput{ByOutputModality: types.ModelModalityText}
			if provider != "" {
				input.ByProvider = aws.String(provider)
			}
			out, err := bedrock.NewFromConfig(awsCfg).ListFoundationModels(ctx, input)
			if err != nil {
				return fmt.Errorf("list foundation models: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL ID\tPROVIDER\tNAME")
			for _, m := range out.ModelSummaries {
				marker := ""
				if aws.ToString(m.ModelId) == cfg.Agent.ModelID {
					marker = " (configured)"
				}
				fmt.Fprintf(w, "%s\t%s\t%s%s\n", aws.ToString(m.ModelId), aws.ToString(m.ProviderName), aws.ToString(m.ModelName), marker)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "only list models of this provider (for example Anthropic)")
	return cmd
}
