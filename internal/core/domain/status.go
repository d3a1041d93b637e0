package domain

// =============================================================================
// Job Status
// =============================================================================

// JobStatus is the lifecycle state of a city's scrape job.
type JobStatus string

const (
	JobNotScraped    JobStatus = "NOT_SCRAPED"
	JobPending       JobStatus = "PENDING"
	JobCompleted     JobStatus = "COMPLETED"
	JobError         JobStatus = "ERROR"
	JobUnknown       JobStatus = "UNKNOWN"
	JobInternalError JobStatus = "INTERNAL_ERROR"
)

var jobStatusMessages = map[JobStatus]string{
	JobNotScraped:    "Scraping/Insertion Has Not Been Initialized For ",
	JobCompleted:     "Scraping/Insertion Completed Successfully For ",
	JobPending:       "Scraping Job Still In Progress For ",
	JobError:         "Scraping/Insertion Job Encountered An Error. Try Again For ",
	JobUnknown:       "Unknown Status For Scraping/Insertion Job For ",
	JobInternalError: "Internal Server Error When Checking Status For ",
}

// ParseJobStatus maps a stored job_status value. A missing value means the
// city was never scraped.
func ParseJobStatus(s string) JobStatus {
	switch JobStatus(s) {
	case "":
		return JobNotScraped
	case JobPending, JobCompleted, JobError, JobUnknown, JobNotScraped:
		return JobStatus(s)
	default:
		return JobUnknown
	}
}

// Message renders the human-readable status sentence for a city.
func (s JobStatus) Message(city, state string) string {
	prefix, ok := jobStatusMessages[s]
	if !ok {
		prefix = jobStatusMessages[JobUnknown]
	}
	return prefix + city + ", " + state
}

// Persistable reports whether the status may be written to the store.
func (s JobStatus) Persistable() bool {
	return s == JobPending || s == JobCompleted || s == JobError
}

// =============================================================================
// Admission
// =============================================================================

// Admission is the outcome of asking whether a scrape may start.
type Admission int

const (
	AdmitRun Admission = iota
	RejectAlreadyCompleted
	RejectInProgress
	RejectUnknownState
)

// Admit decides whether a scrape job may start given the city's current
// status. A rescrape always runs; otherwise only never-scraped or failed
// cities run.
func Admit(current JobStatus, rescrape bool) Admission {
	if rescrape {
		return AdmitRun
	}
	switch current {
	case JobNotScraped, JobError:
		return AdmitRun
	case JobCompleted:
		return RejectAlreadyCompleted
	case JobPending:
		return RejectInProgress
	default:
		return RejectUnknownState
	}
}
