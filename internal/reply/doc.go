// Package reply classifies the free-text answers the game posts after an
// ability is used.
//
// Classification is an ordered list of (pattern, category) rules evaluated in
// fixed priority order: explicit errors, then success, already applied, no
// resource and finally cooldown. The first category with any matching message
// wins. A remaining-time value and an observed resource counter are captured
// independently of the winning category.
//
// Appraise turns a successful reply into a value tier using an AppraisalTable.
package reply
