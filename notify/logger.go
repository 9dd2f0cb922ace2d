package notify

import "github.com/sirupsen/logrus"

var log = logrus.WithField("module", "notify")
