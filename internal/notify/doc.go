// Package notify builds the chat messages the observer posts about a job:
// the registration acknowledgement and the final summary.
//
// Messages are written in markdown and rendered to HTML with goldmark, so a
// chat transport can send the markdown as the plain body and the HTML as the
// formatted body.
package notify
