// Package events provides the process-wide event bus that background
// services publish to and that UI pages subscribe to through long-lived
// connections or the content-script listener fallback.
package events

// Name identifies a bus event. The set is closed: publishers and subscribers
// share these constants instead of free-form strings.
type Name string

const (
	AddRules                   Name = "event.add.rules"
	RemoveRule                 Name = "event.remove.rule"
	UpdateFilterRules          Name = "event.update.filter.rules"
	FilterGroupEnableDisable   Name = "filter.group.enable.disable"
	FilterEnableDisable        Name = "event.filter.enable.disable"
	FilterAddRemove            Name = "event.filter.add.remove"
	AdsBlocked                 Name = "event.ads.blocked"
	StartDownloadFilter        Name = "event.start.download.filter"
	SuccessDownloadFilter      Name = "event.success.download.filter"
	ErrorDownloadFilter        Name = "event.error.download.filter"
	EnableFilterShowPopup      Name = "event.enable.filter.show.popup"
	LogEvent                   Name = "event.log.track"
	UpdateTabButtonState       Name = "event.update.tab.button.state"
	RequestFilterUpdated       Name = "event.request.filter.updated"
	ApplicationInitialized     Name = "event.application.initialized"
	ApplicationUpdated         Name = "event.application.updated"
	ChangePrefs                Name = "event.change.prefs"
	UpdateFiltersShowPopup     Name = "event.update.filters.show.popup"
	UserFilterUpdated          Name = "event.user.filter.updated"
	UpdateAllowlistFilterRules Name = "event.update.allowlist.filter.rules"
	SettingUpdated             Name = "event.update.setting.value"
	FiltersUpdateCheckReady    Name = "event.update.filters.check"

	TabAdded      Name = "log.tab.added"
	TabClose      Name = "log.tab.close"
	TabUpdate     Name = "log.tab.update"
	TabReset      Name = "log.tab.reset"
	LogEventAdded Name = "log.event.added"

	SettingsUpdated Name = "event.sync.finished"

	FullscreenUserRulesEditorUpdated Name = "event.user.rules.editor.updated"
)

var known = map[Name]struct{}{
	AddRules:                         {},
	RemoveRule:                       {},
	UpdateFilterRules:                {},
	FilterGroupEnableDisable:         {},
	FilterEnableDisable:              {},
	FilterAddRemove:                  {},
	AdsBlocked:                       {},
	StartDownloadFilter:              {},
	SuccessDownloadFilter:            {},
	ErrorDownloadFilter:              {},
	EnableFilterShowPopup:            {},
	LogEvent:                         {},
	UpdateTabButtonState:             {},
	RequestFilterUpdated:             {},
	ApplicationInitialized:           {},
	ApplicationUpdated:               {},
	ChangePrefs:                      {},
	UpdateFiltersShowPopup:           {},
	UserFilterUpdated:                {},
	UpdateAllowlistFilterRules:       {},
	SettingUpdated:                   {},
	FiltersUpdateCheckReady:          {},
	TabAdded:                         {},
	TabClose:                         {},
	TabUpdate:                        {},
	TabReset:                         {},
	LogEventAdded:                    {},
	SettingsUpdated:                  {},
	FullscreenUserRulesEditorUpdated: {},
}

// Valid reports whether n belongs to the known event set.
func (n Name) Valid() bool {
	_, ok := known[n]
	return ok
}

// String implements fmt.Stringer.
func (n Name) String() string {
	return string(n)
}

// All returns every known event name. The order is unspecified.
func All() []Name {
	names := make([]Name, 0, len(known))
	for n := range known {
		names = append(names, n)
	}
	return names
}

// ParseNames converts raw strings into names, rejecting unknown entries.
func ParseNames(raw []string) ([]Name, error) {
	names := make([]Name, 0, len(raw))
	for _, r := range raw {
		n := Name(r)
		if !n.Valid() {
			return nil, &UnknownNameError{Name: r}
		}
		names = append(names, n)
	}
	return names, nil
}

// UnknownNameError is returned by ParseNames for a name outside the known set.
type UnknownNameError struct {
	Name string
}

func (e *UnknownNameError) Error() string {
	return "events: unknown event name " + e.Name
}
