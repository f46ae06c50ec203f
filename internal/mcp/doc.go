// Package mcp exposes complaint ingestion, clustering and cluster management as
// Model Context Protocol tools over stdio.
//
// Long operations (import_csv, import_comments, cluster_project,
// project_coordinates) run on the task runner by default and return a run id:
//
//	Request:
//	{
//	  "name": "cluster_project",
//	  "arguments": {"project_id": 1, "algorithm": "dbscan", "eps": 0.5, "min_samples": 5}
//	}
//
//	Response:
//	{"run_id": "6f1c...", "status": "PENDING"}
//
// get_task_status reports PENDING, STARTED, SUCCESS or FAILURE together with the
// run result or error text. Passing "async": false runs the operation inline and
// returns its result directly.
//
// # Error Codes
//
//	-32602  invalid parameters (including cross-project references)
//	-32603  internal error
//	-32001  project, cluster or run not found
//	-32002  another run is active for the project
//	-32004  complaint text is empty
package mcp
