package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/complaintlens/internal/ingest"
	"github.com/dshills/complaintlens/internal/storage"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		p := &storage.Project{Name: strings.Join(args, " ")}
		if err := a.store.CreateProject(cmd.Context(), p); err != nil {
			return err
		}
		return printJSON(cmd, p)
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		projects, err := a.store.ListProjects(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, projects)
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit <text>",
	Short: "Store and embed a single complaint",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, _ := cmd.Flags().GetInt64("project")
		name, _ := cmd.Flags().GetString("name")
		email, _ := cmd.Flags().GetString("email")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		c, err := a.ingest.Submit(cmd.Context(), projectID, ingest.Submission{
			Name:  name,
			Email: email,
			Text:  strings.Join(args, " "),
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]interface{}{"id": c.ID, "embedded": c.HasEmbedding()})
	},
}

var importCSVCmd = &cobra.Command{
	Use:   "import-csv <file>",
	Short: "Import complaints from a CSV file with email, Id and Text columns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, _ := cmd.Flags().GetInt64("project")
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open %s: %w", args[0], err)
		}
		defer func() { _ = f.Close() }()

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.ingest.ImportCSV(cmd.Context(), projectID, f)
		if err != nil {
			return err
		}
		return printJSON(cmd, stats)
	},
}

var importCommentsCmd = &cobra.Command{
	Use:   "import-comments <video-url>",
	Short: "Import the comments of a YouTube video",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, _ := cmd.Flags().GetInt64("project")
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.cfg.RequireYouTube(); err != nil {
			return err
		}

		stats, err := a.ingest.ImportComments(cmd.Context(), projectID, args[0], limit)
		if err != nil {
			return err
		}
		return printJSON(cmd, stats)
	},
}

var embedPendingCmd = &cobra.Command{
	Use:   "embed-pending",
	Short: "Embed complaints that have no embedding yet",
	RunE: func(cmd *cobra.Command, _ []string) error {
		projectID, _ := cmd.Flags().GetInt64("project")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.pipeline.EmbedPending(cmd.Context(), projectID)
		if err != nil {
			return err
		}
		return printJSON(cmd, stats)
	},
}

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Cluster the embedded complaints of a project",
	RunE: func(cmd *cobra.Command, _ []string) error {
		projectID, _ := cmd.Flags().GetInt64("project")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		params := a.clusterParams()
		flags := cmd.Flags()
		if flags.Changed("algorithm") {
			params.Algorithm, _ = flags.GetString("algorithm")
		}
		if flags.Changed("eps") {
			params.Eps, _ = flags.GetFloat64("eps")
		}
		if flags.Changed("min-samples") {
			params.MinSamples, _ = flags.GetInt("min-samples")
		}
		if flags.Changed("metric") {
			params.Metric, _ = flags.GetString("metric")
		}
		params.NClusters, _ = flags.GetInt("n-clusters")
		params.AutoClusters, _ = flags.GetBool("auto-clusters")

		result, err := a.orchestrator.Run(cmd.Context(), projectID, params)
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	},
}

var projectCoordinatesCmd = &cobra.Command{
	Use:   "project-coordinates",
	Short: "Compute 2-D t-SNE coordinates for a project",
	RunE: func(cmd *cobra.Command, _ []string) error {
		projectID, _ := cmd.Flags().GetInt64("project")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		perplexity := a.cfg.Clustering.Perplexity
		if cmd.Flags().Changed("perplexity") {
			perplexity, _ = cmd.Flags().GetFloat64("perplexity")
		}
		result, err := a.projector.Project(cmd.Context(), projectID, perplexity)
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	},
}

var clustersCmd = &cobra.Command{
	Use:   "clusters",
	Short: "List the clusters of a project",
	RunE: func(cmd *cobra.Command, _ []string) error {
		projectID, _ := cmd.Flags().GetInt64("project")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		clusters, err := a.store.ListClusters(cmd.Context(), projectID)
		if err != nil {
			return err
		}
		return printJSON(cmd, clusters)
	},
}

func init() {
	for _, c := range []*cobra.Command{submitCmd, importCSVCmd, importCommentsCmd, embedPendingCmd, clusterCmd, projectCoordinatesCmd, clustersCmd} {
		c.Flags().Int64P("project", "p", 0, "Project id")
		_ = c.MarkFlagRequired("project")
	}

	submitCmd.Flags().String("name", "", "Author name")
	submitCmd.Flags().String("email", "", "Author email")

	importCommentsCmd.Flags().Int("limit", 0, "Maximum comments to import (0 = all)")

	clusterCmd.Flags().String("algorithm", "dbscan", "Clustering algorithm (dbscan, kmeans)")
	clusterCmd.Flags().Float64("eps", 0.5, "DBSCAN neighbourhood radius")
	clusterCmd.Flags().Int("min-samples", 5, "DBSCAN minimum neighbourhood size")
	clusterCmd.Flags().Int("n-clusters", 0, "Number of kmeans clusters")
	clusterCmd.Flags().Bool("auto-clusters", false, "Let kmeans choose the number of clusters")
	clusterCmd.Flags().String("metric", "cosine", "Distance metric (cosine, euclidean)")

	projectCoordinatesCmd.Flags().Float64("perplexity", 10, "t-SNE perplexity")

	projectCmd.AddCommand(projectCreateCmd, projectListCmd)
	rootCmd.AddCommand(projectCmd, submitCmd, importCSVCmd, importCommentsCmd,
		embedPendingCmd, clusterCmd, projectCoordinatesCmd, clustersCmd)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
