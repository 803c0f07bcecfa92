package models

// Stable error codes. They appear both in logs and in error Messages, so
// renaming one is a breaking change for downstream consumers.

// Parse errors.
const (
	CodeRCError           = "rcerror"
	CodeLogParseFail      = "logparsefail"
	CodeLogActionUnknown  = "logactionunknown"
	CodeAbuseFilterParse  = "afparseerr"
	CodeMissingGroups     = "missinggroups"
	CodeWikiFeaturesError = "wikifeatureserror"
	CodeDiscussionsJSON   = "discussionsjson"
	CodeDiscussionsURL    = "discussionsurl"
	CodeDiscussionsURL2   = "discussionsurl2"
	CodeDiscussionsType   = "discussionstype"
	CodeNewusersError     = "newuserserror"
	CodeUnknownType       = "unknowntype"
)

// Fetch errors.
const (
	CodeMessageFetch     = "messagefetch"
	CodeAPIThreadLog     = "api-threadlog"
	CodeAPITitleAPI      = "api-titleapi"
	CodeAPINoTitle       = "api-notitle"
	CodeAPIThreadInfo    = "api-threadinfo"
	CodeThreadLogNoFind  = "threadlognofind"
	CodeThreadTitleParse = "threadtitleparse"
)

// Cache errors.
const (
	CodeCacheThreadTitle    = "cache-threadtitle"
	CodeCacheSetThreadCache = "cache-setthreadcache"
)

// Redis connectivity at startup.
const CodeNoRedis = "no-redis"

// messagefetch subcodes, reported in the error Message details.
const (
	FetchSubcodeHTML    = "html"
	FetchSubcodeUnusual = "unusual"
	FetchSubcodeFail    = "fail"
)
