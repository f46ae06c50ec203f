// Package cluster groups the embedded complaints of a project into named clusters
// and projects them to 2-D.
//
// A clustering run moves through collecting, clustering, assigning and summary
// phases. Assignment happens in one transaction: every complaint of the project is
// either moved into a Cluster_<label> row or detached when it is noise or its
// embedding dimension differs from the majority. Summaries are generated after the
// commit; a cluster whose summary fails keeps its placeholder name.
//
// Only one run (clustering, projection or manual grouping) is active per project.
package cluster
