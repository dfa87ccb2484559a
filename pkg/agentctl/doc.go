// Package agentctl implements the agent-controller scan protocol. An
// agent scan targets enrolled agents instead of network hosts; scan
// creation carries an agent list, while status and result polling are
// shared with the HTTP scanner protocol. Agent scans cannot resume.
package agentctl
