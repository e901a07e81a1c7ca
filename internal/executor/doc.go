// Package executor performs one ability on one agent.
//
// Execute runs the full cycle exactly once:
//
//  1. validate the agent (observer, disabled, suspended, needs manual,
//     resource, social and ability cooldowns)
//  2. find the user's trigger message in the agent's source chat
//  3. send the ability text to the target chat as a reply to the trigger
//  4. poll the target chat for new messages and classify them
//  5. apply the classified outcome to the agent's state
//
// Executions are serialized per agent. Steps 2 to 4 additionally hold a lock
// on the target chat so concurrent requesters in one chat never see each
// other's replies. Locks are always taken agent first, then target.
//
// Execute never returns an error; every path ends in a Result.
package executor
