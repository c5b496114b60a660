// Package notifystore persists notification configurations. A config
// couples a pipeline id with a boolean condition over the execution
// event's data and a channel-specific parameter set. The parameter shape
// is fully determined by the config type; malformed combinations are
// rejected at write time and never reach the evaluator.
package notifystore
