// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "CulicidaeLab-Go")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "culicidaelab.log")
	viper.SetDefault("main.log.rotation", RotationDaily)
	viper.SetDefault("main.log.maxsize", 1048576)
	viper.SetDefault("main.log.rotationday", "Sunday")

	viper.SetDefault("model.debug", false)
	viper.SetDefault("model.identifier", DefaultModelIdentifier)
	viper.SetDefault("model.weightspath", "models/culicidaelab-classifier_v1.tflite")
	viper.SetDefault("model.labelspath", "models/culicidaelab-classifier_v1_labels.txt")
	viper.SetDefault("model.threads", 0)
	viper.SetDefault("model.usexnnpack", true)

	viper.SetDefault("artifacts.debug", false)
	viper.SetDefault("artifacts.enabled", true)
	viper.SetDefault("artifacts.root", "artifacts/")
	viper.SetDefault("artifacts.maxuploadbytes", 10*1024*1024)
	viper.SetDefault("artifacts.pipelinetimeout", 30*time.Second)
	viper.SetDefault("artifacts.maxdiskusage", "90%")
	viper.SetDefault("artifacts.mindimension", 16)
	viper.SetDefault("artifacts.maxdimension", 8192)
	viper.SetDefault("artifacts.retrywrites", false)

	viper.SetDefault("reference.defaultlocale", "en")
	viper.SetDefault("reference.cachettl", 15*time.Minute)
	viper.SetDefault("reference.similaritylimit", 10)

	viper.SetDefault("webserver.debug", false)
	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.port", "8080")
	viper.SetDefault("webserver.ratelimit", 0)

	viper.SetDefault("webserver.log.enabled", false)
	viper.SetDefault("webserver.log.path", "webui.log")
	viper.SetDefault("webserver.log.rotation", RotationDaily)
	viper.SetDefault("webserver.log.maxsize", 1048576)
	viper.SetDefault("webserver.log.rotationday", "Sunday")

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "culicidaelab.db")

	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "culicidaelab")
	viper.SetDefault("output.mysql.password", "secret")
	viper.SetDefault("output.mysql.database", "culicidaelab")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")

	viper.SetDefault("output.mqtt.enabled", false)
	viper.SetDefault("output.mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("output.mqtt.topic", "culicidaelab/observations")
	viper.SetDefault("output.mqtt.username", "culicidaelab")
	viper.SetDefault("output.mqtt.password", "secret")
	viper.SetDefault("output.mqtt.retain", false)

	viper.SetDefault("speciesimages.debug", false)
	viper.SetDefault("speciesimages.enabled", true)
	viper.SetDefault("speciesimages.provider", "wikimedia")

	viper.SetDefault("notification.debug", false)
	viper.SetDefault("notification.enabled", false)
	viper.SetDefault("notification.urls", []string{})

	viper.SetDefault("backup.enabled", false)
	viper.SetDefault("backup.debug", false)
	viper.SetDefault("backup.schedule", "0 2 * * *")
	viper.SetDefault("backup.retention.maxage", "30d")
	viper.SetDefault("backup.retention.maxbackups", 7)
	viper.SetDefault("backup.retention.minbackups", 3)

	viper.SetDefault("sentry.debug", false)
	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
}
