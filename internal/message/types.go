// Package message defines the one-shot message envelope exchanged between
// UI pages and the background process, the closed set of message types, and
// the push notification shape used on long-lived connections.
package message

// Type discriminates a message. Handlers are registered per Type.
type Type string

// Message types understood by the background routers.
const (
	CreateEventListener                Type = "createEventListener"
	RemoveListener                     Type = "removeListener"
	OpenExtensionStore                 Type = "openExtensionStore"
	AddAndEnableFilter                 Type = "addAndEnableFilter"
	ApplySettingsJSON                  Type = "applySettingsJson"
	OpenFilteringLog                   Type = "openFilteringLog"
	OpenFullscreenUserRules            Type = "openFullscreenUserRules"
	ResetBlockedAdsCount               Type = "resetBlockedAdsCount"
	ResetSettings                      Type = "resetSettings"
	GetUserRules                       Type = "getUserRules"
	SaveUserRules                      Type = "saveUserRules"
	GetAllowlistDomains                Type = "getAllowlistDomains"
	SaveAllowlistDomains               Type = "saveAllowlistDomains"
	CheckAntiBannerFiltersUpdate       Type = "checkAntiBannerFiltersUpdate"
	DisableFiltersGroup                Type = "disableFiltersGroup"
	DisableAntiBannerFilter            Type = "disableAntiBannerFilter"
	LoadCustomFilterInfo               Type = "loadCustomFilterInfo"
	SubscribeToCustomFilter            Type = "subscribeToCustomFilter"
	RemoveAntiBannerFilter             Type = "removeAntiBannerFilter"
	GetTabInfoForPopup                 Type = "getTabInfoForPopup"
	ChangeApplicationFilteringDisabled Type = "changeApplicationFilteringDisabled"
	OpenSettingsTab                    Type = "openSettingsTab"
	OpenAssistant                      Type = "openAssistant"
	OpenAbuseTab                       Type = "openAbuseTab"
	OpenSiteReportTab                  Type = "openSiteReportTab"
	ResetCustomRulesForPage            Type = "resetCustomRulesForPage"
	RemoveAllowlistDomain              Type = "removeAllowlistDomainPopup"
	AddAllowlistDomainPopup            Type = "addAllowlistDomainPopup"
	GetStatisticsData                  Type = "getStatisticsData"
	OnOpenFilteringLogPage             Type = "onOpenFilteringLogPage"
	GetFilteringLogData                Type = "getFilteringLogData"
	InitializeFrameScript              Type = "initializeFrameScript"
	OnCloseFilteringLogPage            Type = "onCloseFilteringLogPage"
	GetFilteringInfoByTabID            Type = "getFilteringInfoByTabId"
	SynchronizeOpenTabs                Type = "synchronizeOpenTabs"
	ClearEventsByTabID                 Type = "clearEventsByTabId"
	RefreshPage                        Type = "refreshPage"
	OpenTab                            Type = "openTab"
	AddUserRule                        Type = "addUserRule"
	UnAllowlistFrame                   Type = "unAllowlistFrame"
	RemoveUserRule                     Type = "removeUserRule"
	GetTabFrameInfoByID                Type = "getTabFrameInfoById"
	EnableFiltersGroup                 Type = "enableFiltersGroup"
	NotifyListeners                    Type = "notifyListeners"
	AddLongLivedConnection             Type = "addLongLivedConnection"
	GetOptionsData                     Type = "getOptionsData"
	ChangeUserSetting                  Type = "changeUserSetting"
	CheckRequestFilterReady            Type = "checkRequestFilterReady"
	OpenThankYouPage                   Type = "openThankYouPage"
	OpenSafebrowsingTrusted            Type = "openSafebrowsingTrusted"
	GetSelectorsAndScripts             Type = "getSelectorsAndScripts"
	CheckPageScriptWrapperRequest      Type = "checkPageScriptWrapperRequest"
	ProcessShouldCollapse              Type = "processShouldCollapse"
	ProcessShouldCollapseMany          Type = "processShouldCollapseMany"
	AddFilteringSubscription           Type = "addFilterSubscription"
	SetNotificationViewed              Type = "setNotificationViewed"
	SaveCSSHitsStats                   Type = "saveCssHitStats"
	GetCookieRules                     Type = "getCookieRules"
	SaveCookieLogEvent                 Type = "saveCookieRuleEvent"
	LoadSettingsJSON                   Type = "loadSettingsJson"
	AddURLToTrusted                    Type = "addUrlToTrusted"
	SetPreserveLogState                Type = "setPreserveLogState"
	GetUserRulesEditorData             Type = "getUserRulesEditorData"
	GetEditorStorageContent            Type = "getEditorStorageContent"
	SetEditorStorageContent            Type = "setEditorStorageContent"
	ConvertRulesText                   Type = "convertRulesText"
)

var known = map[Type]struct{}{
	CreateEventListener:                {},
	RemoveListener:                     {},
	OpenExtensionStore:                 {},
	AddAndEnableFilter:                 {},
	ApplySettingsJSON:                  {},
	OpenFilteringLog:                   {},
	OpenFullscreenUserRules:            {},
	ResetBlockedAdsCount:               {},
	ResetSettings:                      {},
	GetUserRules:                       {},
	SaveUserRules:                      {},
	GetAllowlistDomains:                {},
	SaveAllowlistDomains:               {},
	CheckAntiBannerFiltersUpdate:       {},
	DisableFiltersGroup:                {},
	DisableAntiBannerFilter:            {},
	LoadCustomFilterInfo:               {},
	SubscribeToCustomFilter:            {},
	RemoveAntiBannerFilter:             {},
	GetTabInfoForPopup:                 {},
	ChangeApplicationFilteringDisabled: {},
	OpenSettingsTab:                    {},
	OpenAssistant:                      {},
	OpenAbuseTab:                       {},
	OpenSiteReportTab:                  {},
	ResetCustomRulesForPage:            {},
	RemoveAllowlistDomain:              {},
	AddAllowlistDomainPopup:            {},
	GetStatisticsData:                  {},
	OnOpenFilteringLogPage:             {},
	GetFilteringLogData:                {},
	InitializeFrameScript:              {},
	OnCloseFilteringLogPage:            {},
	GetFilteringInfoByTabID:            {},
	SynchronizeOpenTabs:                {},
	ClearEventsByTabID:                 {},
	RefreshPage:                        {},
	OpenTab:                            {},
	AddUserRule:                        {},
	UnAllowlistFrame:                   {},
	RemoveUserRule:                     {},
	GetTabFrameInfoByID:                {},
	EnableFiltersGroup:                 {},
	NotifyListeners:                    {},
	AddLongLivedConnection:             {},
	GetOptionsData:                     {},
	ChangeUserSetting:                  {},
	CheckRequestFilterReady:            {},
	OpenThankYouPage:                   {},
	OpenSafebrowsingTrusted:            {},
	GetSelectorsAndScripts:             {},
	CheckPageScriptWrapperRequest:      {},
	ProcessShouldCollapse:              {},
	ProcessShouldCollapseMany:          {},
	AddFilteringSubscription:           {},
	SetNotificationViewed:              {},
	SaveCSSHitsStats:                   {},
	GetCookieRules:                     {},
	SaveCookieLogEvent:                 {},
	LoadSettingsJSON:                   {},
	AddURLToTrusted:                    {},
	SetPreserveLogState:                {},
	GetUserRulesEditorData:             {},
	GetEditorStorageContent:            {},
	SetEditorStorageContent:            {},
	ConvertRulesText:                   {},
}

// Valid reports whether t is one of the known message types.
func (t Type) Valid() bool {
	_, ok := known[t]
	return ok
}

func (t Type) String() string {
	return string(t)
}

// Types returns every known message type in no particular order.
func Types() []Type {
	out := make([]Type, 0, len(known))
	for t := range known {
		out = append(out, t)
	}
	return out
}
