// Package tabsync keeps sibling tabs of one origin in the same authenticated
// state by broadcasting TOKEN_REFRESHED and LOGOUT events between them.
//
// Tabs never share memory. They talk over a Bus, which is a capability
// injected at construction: Hub for tabs in one process, sockbus for tabs in
// separate processes, and Nop where no channel exists (posting is then a
// silent no-op). A Synchronizer owns one channel handle per tab and filters
// out its own broadcasts so handlers only ever see events from other tabs.
package tabsync
