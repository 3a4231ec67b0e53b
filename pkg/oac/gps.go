package oac

// gpsEpochMJD is 1980-01-06 00:00:00 UTC
const gpsEpochMJD = 44244.0

const secondsPerDay = 86400.0

// leapSeconds lists the UTC dates (as MJD) on which GPS-UTC grew by one
// second, starting from zero at the GPS epoch
var leapSeconds = []float64{
	44786, // 1981-07-01
	45151, // 1982-07-01
	45516, // 1983-07-01
	46247, // 1985-07-01
	47161, // 1988-01-01
	47892, // 1990-01-01
	48257, // 1991-01-01
	48804, // 1992-07-01
	49169, // 1993-07-01
	49534, // 1994-07-01
	50083, // 1996-01-01
	50630, // 1997-07-01
	51179, // 1999-01-01
	53736, // 2006-01-01
	54832, // 2009-01-01
	56109, // 2012-07-01
	57204, // 2015-07-01
	57754, // 2017-01-01
}

// GPSToMJD converts GPS seconds to a UTC modified Julian date. Leap seconds
// are removed, so the result trails a TAI-scale MJD such as astropy's
// Time(t, format="gps").mjd by TAI-UTC (37 s since 2017).
func GPSToMJD(gps float64) float64 {
	offset := 0.0
	for i, mjd := range leapSeconds {
		n := float64(i + 1)
		if gps >= (mjd-gpsEpochMJD)*secondsPerDay+n {
			offset = n
		}
	}
	return gpsEpochMJD + (gps-offset)/secondsPerDay
}
